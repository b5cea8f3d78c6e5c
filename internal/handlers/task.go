package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hubflo/hubflo/internal/constants"
	"github.com/hubflo/hubflo/internal/dto"
	apierrors "github.com/hubflo/hubflo/internal/errors"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/services"
	"github.com/hubflo/hubflo/internal/utils"
)

type TaskHandler struct {
	taskService *services.TaskService
}

func NewTaskHandler(taskService *services.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
	}
}

// ListTasks returns tasks newest first
// Can filter by tag, status, sender and a free-text q
func (h *TaskHandler) ListTasks(c *gin.Context) {
	input := services.ListTasksInput{
		Sender: c.Query("sender"),
		Query:  c.Query("q"),
	}

	if raw := c.Query("tag"); raw != "" {
		tag := models.Tag(raw)
		if !tag.IsValid() {
			apierrors.BadRequest(c, "Invalid tag")
			return
		}
		input.Tag = &tag
	}
	if raw := c.Query("status"); raw != "" {
		status := models.TaskStatus(raw)
		if !status.IsValid() {
			apierrors.BadRequest(c, "Invalid status")
			return
		}
		input.Status = &status
	}

	params := utils.GetPaginationParams(c)
	input.Page = params.Page
	input.PageSize = params.Limit

	tasks, total, err := h.taskService.List(c.Request.Context(), input)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskListResponse(tasks, params.Page, params.Limit, total))
}

// GetTask returns a single task
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.taskService.Get(c.Request.Context(), id)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

// GetAudit returns a task's audit trail
func (h *TaskHandler) GetAudit(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	records, err := h.taskService.Audit(c.Request.Context(), id)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit": dto.ToAuditRecordDTOs(records)})
}

// CreateTask creates a task outside the chat channel
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequestWithDetails(c, "Invalid request body", err.Error())
		return
	}

	if req.Tag != "" && !req.Tag.IsValid() {
		apierrors.BadRequest(c, "Invalid tag")
		return
	}
	if req.Subtype != "" && !req.Subtype.IsValid() {
		apierrors.BadRequest(c, "Invalid subtype")
		return
	}

	task, err := h.taskService.Create(c.Request.Context(), services.CreateTaskInput{
		Actor:             constants.ActorAdmin,
		Sender:            strings.TrimSpace(req.Sender),
		Text:              strings.TrimSpace(req.Text),
		Tag:               req.Tag,
		Subtype:           req.Subtype,
		DueDate:           req.DueDate,
		ParentID:          req.ParentID,
		SubcontractorName: req.SubcontractorName,
		ProjectCode:       req.ProjectCode,
	})
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ToTaskDTO(*task))
}

// StartTask moves an open task to in_progress
func (h *TaskHandler) StartTask(c *gin.Context) {
	h.transition(c, h.taskService.Start)
}

// MarkDone finishes a task and records any overrun against its due date
func (h *TaskHandler) MarkDone(c *gin.Context) {
	h.transition(c, h.taskService.MarkDone)
}

// ApproveTask approves a task awaiting review
func (h *TaskHandler) ApproveTask(c *gin.Context) {
	h.transition(c, h.taskService.Approve)
}

// RevokeTask reopens a finished task
func (h *TaskHandler) RevokeTask(c *gin.Context) {
	h.transition(c, h.taskService.Revoke)
}

// RejectTask rejects a task. The body is optional; rework defaults to true.
func (h *TaskHandler) RejectTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	var req dto.RejectTaskRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.BadRequestWithDetails(c, "Invalid request body", err.Error())
			return
		}
	}
	rework := true
	if req.Rework != nil {
		rework = *req.Rework
	}

	task, err := h.taskService.Reject(c.Request.Context(), id, constants.ActorAdmin, rework)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

// SetOrderState moves an order task through its sub-lifecycle
func (h *TaskHandler) SetOrderState(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	var req dto.OrderStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequestWithDetails(c, "Invalid request body", err.Error())
		return
	}

	task, err := h.taskService.SetOrderState(c.Request.Context(), id, constants.ActorAdmin, req.State)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

// SetDueDate sets or clears a task's due date
func (h *TaskHandler) SetDueDate(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	var req dto.DueDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequestWithDetails(c, "Invalid request body", err.Error())
		return
	}

	task, err := h.taskService.SetDueDate(c.Request.Context(), id, constants.ActorAdmin, req.DueDate)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

// Summary counts the most recent tasks by tag
func (h *TaskHandler) Summary(c *gin.Context) {
	summary, err := h.taskService.Summary(c.Request.Context())
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SummaryDTO{
		CountsByTag: summary.CountsByTag,
		Latest:      dto.ToTaskDTOs(summary.Latest),
	})
}

// Accuracy scores one subcontractor
func (h *TaskHandler) Accuracy(c *gin.Context) {
	subcontractor := strings.TrimSpace(c.Query("subcontractor"))
	if subcontractor == "" {
		apierrors.BadRequest(c, "subcontractor is required")
		return
	}

	result, err := h.taskService.Accuracy(c.Request.Context(), subcontractor)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *TaskHandler) transition(c *gin.Context, fn func(ctx context.Context, id uint64, actor string) (*models.Task, error)) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	task, err := fn(c.Request.Context(), id, constants.ActorAdmin)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskDTO(*task))
}

func taskIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		apierrors.BadRequest(c, "Invalid task ID")
		return 0, false
	}
	return id, true
}

func respondTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		apierrors.NotFound(c, "Task not found")
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrDialogueActive):
		apierrors.InvalidTransition(c, err.Error())
	case errors.Is(err, services.ErrNotOrderTask),
		errors.Is(err, services.ErrInvalidOrderState),
		errors.Is(err, services.ErrInvalidDelay),
		errors.Is(err, services.ErrNoteRequired):
		apierrors.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrConcurrentUpdate):
		apierrors.Conflict(c, err.Error())
	case errors.Is(err, services.ErrStorageFailure):
		logging.FromContext(c.Request.Context()).Error("admin request failed", "path", c.FullPath(), "error", err)
		apierrors.StorageFailure(c, "")
	default:
		logging.FromContext(c.Request.Context()).Error("admin request failed", "path", c.FullPath(), "error", err)
		apierrors.InternalError(c, "")
	}
}
