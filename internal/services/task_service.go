package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hubflo/hubflo/internal/constants"
	"github.com/hubflo/hubflo/internal/dialogue"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/metrics"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/notify"
	"github.com/hubflo/hubflo/internal/repository"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("transition not allowed from current status")
	ErrNotOrderTask      = errors.New("task is not an order")
	ErrInvalidOrderState = errors.New("unknown order state")
	ErrDialogueActive    = errors.New("order dialogue still in progress")
	ErrInvalidDelay      = errors.New("delay must be positive")
	ErrNoteRequired      = errors.New("note is required")
	ErrStorageFailure    = errors.New("storage failure")
	ErrConcurrentUpdate  = errors.New("task kept changing, try again")
)

// StorageError wraps a persistence failure. errors.Is(err, ErrStorageFailure) holds for it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Audit actions
const (
	ActionCreate         = "create"
	ActionStart          = "start"
	ActionMarkDone       = "mark_done"
	ActionApprove        = "approve"
	ActionReject         = "reject"
	ActionOrderState     = "order_state"
	ActionRevoke         = "revoke"
	ActionDelay          = "delay"
	ActionNote           = "note"
	ActionDueDate        = "due_date"
	ActionDialogueAnswer = "dialogue_answer"
	ActionDialogueSelect = "dialogue_select"
	ActionDialogueCancel = "dialogue_cancel"
)

// Watcher is told about every committed task so it can reschedule escalations.
type Watcher interface {
	Watch(task models.Task)
}

// TaskService owns task state: creation, status and order transitions, and the audit trail
type TaskService struct {
	taskRepo  repository.TaskRepository
	auditRepo repository.AuditRepository
	publisher notify.Publisher
	watcher   Watcher
	metrics   *metrics.Metrics
	now       func() time.Time
}

type TaskServiceOption func(*TaskService)

func WithPublisher(p notify.Publisher) TaskServiceOption {
	return func(s *TaskService) {
		s.publisher = p
	}
}

func WithWatcher(w Watcher) TaskServiceOption {
	return func(s *TaskService) {
		s.watcher = w
	}
}

func WithMetrics(m *metrics.Metrics) TaskServiceOption {
	return func(s *TaskService) {
		s.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) TaskServiceOption {
	return func(s *TaskService) {
		s.now = now
	}
}

// NewTaskService creates a new TaskService
func NewTaskService(taskRepo repository.TaskRepository, auditRepo repository.AuditRepository, opts ...TaskServiceOption) *TaskService {
	s := &TaskService{
		taskRepo:  taskRepo,
		auditRepo: auditRepo,
		publisher: notify.NopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTaskInput represents input for creating a task
type CreateTaskInput struct {
	Actor             string
	Sender            string
	Text              string
	Tag               models.Tag
	Subtype           models.Subtype
	DialogueState     models.DialogueState
	DueDate           *time.Time
	ParentID          *uint64
	SubcontractorName string
	ProjectCode       string
	AttachmentURL     string
	AttachmentMime    string
	AttachmentName    string
}

// ListTasksInput represents filters for listing tasks
type ListTasksInput struct {
	Tag      *models.Tag
	Status   *models.TaskStatus
	Sender   string
	Query    string
	Page     int
	PageSize int
}

// SummaryResult counts the most recent tasks by tag
type SummaryResult struct {
	CountsByTag map[models.Tag]int `json:"counts_by_tag"`
	Latest      []models.Task      `json:"latest"`
}

// AccuracyResult scores a subcontractor's completed work
type AccuracyResult struct {
	Subcontractor string `json:"subcontractor"`
	Total         int    `json:"total"`
	OnTime        int    `json:"on_time"`
	Overruns      int    `json:"overruns"`
	Reworks       int    `json:"reworks"`
	AccuracyPct   int    `json:"accuracy_pct"`
}

// ConverseResult is one dialogue step applied to a task
type ConverseResult struct {
	Task    *models.Task
	Outcome dialogue.Outcome
}

// Create creates a new open task and its creation audit record
func (s *TaskService) Create(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	if input.Tag == "" {
		input.Tag = models.TagNone
	}
	if input.Subtype == "" {
		input.Subtype = models.SubtypeAssigned
	}
	if input.DialogueState == "" {
		input.DialogueState = models.DialogueNone
	}
	if input.DialogueState != models.DialogueNone && input.Tag != models.TagOrder {
		return nil, fmt.Errorf("%w: dialogue on a %s task", ErrInvalidTransition, input.Tag)
	}

	task := &models.Task{
		Sender:            input.Sender,
		Text:              input.Text,
		Tag:               input.Tag,
		Subtype:           input.Subtype,
		Status:            models.TaskStatusOpen,
		DialogueState:     input.DialogueState,
		DueDate:           input.DueDate,
		ParentID:          input.ParentID,
		SubcontractorName: input.SubcontractorName,
		ProjectCode:       input.ProjectCode,
		AttachmentURL:     input.AttachmentURL,
		AttachmentMime:    input.AttachmentMime,
		AttachmentName:    input.AttachmentName,
		Version:           1,
	}
	if task.Tag == models.TagOrder {
		quoted := models.OrderStateQuoted
		task.OrderState = &quoted
	}

	actor := input.Actor
	if actor == "" {
		actor = input.Sender
	}
	audit := &models.AuditRecord{
		Actor:   actor,
		Action:  ActionCreate,
		Details: details(map[string]any{"tag": task.Tag, "subtype": task.Subtype}),
	}
	if err := s.taskRepo.Create(ctx, task, audit); err != nil {
		return nil, storageErr("create task", err)
	}

	s.afterCommit(ctx, ActionCreate, actor, task)
	return task, nil
}

// Start moves an open task to in_progress
func (s *TaskService) Start(ctx context.Context, id uint64, actor string) (*models.Task, error) {
	return s.mutate(ctx, id, actor, ActionStart, func(t *models.Task) (string, error) {
		if t.Status != models.TaskStatusOpen {
			return "", fmt.Errorf("%w: start from %s", ErrInvalidTransition, t.Status)
		}
		if t.DialogueState.IsActive() {
			return "", ErrDialogueActive
		}
		now := s.now().UTC()
		t.Status = models.TaskStatusInProgress
		t.StartedAt = &now
		return "", nil
	})
}

// MarkDone completes a task and fixes its overrun against the due date
func (s *TaskService) MarkDone(ctx context.Context, id uint64, actor string) (*models.Task, error) {
	return s.mutate(ctx, id, actor, ActionMarkDone, func(t *models.Task) (string, error) {
		if t.Status == models.TaskStatusDone {
			return "", fmt.Errorf("%w: already done", ErrInvalidTransition)
		}
		if t.DialogueState.IsActive() {
			return "", ErrDialogueActive
		}
		now := s.now().UTC()
		t.Status = models.TaskStatusDone
		t.CompletedAt = &now
		t.DialogueState = models.DialogueNone
		t.OverrunDays = overrunDays(t.DueDate, now)
		return details(map[string]any{"overrun_days": t.OverrunDays}), nil
	})
}

var reviewable = map[models.TaskStatus]bool{
	models.TaskStatusOpen:            true,
	models.TaskStatusInProgress:      true,
	models.TaskStatusPendingApproval: true,
	models.TaskStatusDone:            true,
}

// Approve approves a task; order tasks also move to the approved order state
func (s *TaskService) Approve(ctx context.Context, id uint64, actor string) (*models.Task, error) {
	return s.mutate(ctx, id, actor, ActionApprove, func(t *models.Task) (string, error) {
		if !reviewable[t.Status] {
			return "", fmt.Errorf("%w: approve from %s", ErrInvalidTransition, t.Status)
		}
		if t.DialogueState.IsActive() {
			return "", ErrDialogueActive
		}
		now := s.now().UTC()
		t.Status = models.TaskStatusApproved
		t.ApprovedAt = &now
		t.DialogueState = models.DialogueNone
		if t.Tag == models.TagOrder {
			setOrderState(t, models.OrderStateApproved)
		}
		return details(map[string]any{"order_state": orderStateOf(t)}), nil
	})
}

// Reject rejects a task, flagging it for rework when asked; order tasks are cancelled
func (s *TaskService) Reject(ctx context.Context, id uint64, actor string, rework bool) (*models.Task, error) {
	return s.mutate(ctx, id, actor, ActionReject, func(t *models.Task) (string, error) {
		if !reviewable[t.Status] {
			return "", fmt.Errorf("%w: reject from %s", ErrInvalidTransition, t.Status)
		}
		if t.DialogueState.IsActive() {
			return "", ErrDialogueActive
		}
		now := s.now().UTC()
		t.Status = models.TaskStatusRejected
		t.RejectedAt = &now
		t.IsRework = rework
		t.DialogueState = models.DialogueNone
		if t.Tag == models.TagOrder {
			setOrderState(t, models.OrderStateCancelled)
		}
		return details(map[string]any{"rework": rework, "order_state": orderStateOf(t)}), nil
	})
}

// SetOrderState moves an order task to any value of the order enum
func (s *TaskService) SetOrderState(ctx context.Context, id uint64, actor, state string) (*models.Task, error) {
	next, ok := models.ParseOrderState(strings.ToLower(strings.TrimSpace(state)))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderState, state)
	}
	return s.mutate(ctx, id, actor, ActionOrderState, func(t *models.Task) (string, error) {
		if t.Tag != models.TagOrder {
			return "", ErrNotOrderTask
		}
		from := orderStateOf(t)
		setOrderState(t, next)
		return details(map[string]any{"from": from, "to": next}), nil
	})
}

// Revoke reopens a task from approved, rejected or done
func (s *TaskService) Revoke(ctx context.Context, id uint64, actor string) (*models.Task, error) {
	return s.mutate(ctx, id, actor, ActionRevoke, func(t *models.Task) (string, error) {
		if !t.Status.IsTerminal() {
			return "", fmt.Errorf("%w: revoke from %s", ErrInvalidTransition, t.Status)
		}
		from := t.Status
		t.Status = models.TaskStatusOpen
		t.CompletedAt = nil
		t.ApprovedAt = nil
		t.RejectedAt = nil
		t.OverrunDays = 0
		if t.Tag == models.TagOrder && t.OrderState != nil &&
			(*t.OrderState == models.OrderStateApproved || *t.OrderState == models.OrderStateCancelled) {
			setOrderState(t, models.OrderStatePendingApproval)
		}
		return details(map[string]any{"from": from}), nil
	})
}

// Delay pushes the due date of an open task, starting from now when it had none
func (s *TaskService) Delay(ctx context.Context, id uint64, actor string, by time.Duration) (*models.Task, error) {
	if by <= 0 {
		return nil, ErrInvalidDelay
	}
	return s.mutate(ctx, id, actor, ActionDelay, func(t *models.Task) (string, error) {
		if !t.IsActive() {
			return "", fmt.Errorf("%w: delay a %s task", ErrInvalidTransition, t.Status)
		}
		base := s.now().UTC()
		if t.DueDate != nil {
			base = *t.DueDate
		}
		due := base.Add(by)
		t.DueDate = &due
		return details(map[string]any{"by": by.String(), "due_date": due}), nil
	})
}

// SetDueDate sets or clears the due date
func (s *TaskService) SetDueDate(ctx context.Context, id uint64, actor string, due *time.Time) (*models.Task, error) {
	return s.mutate(ctx, id, actor, ActionDueDate, func(t *models.Task) (string, error) {
		if due == nil {
			t.DueDate = nil
			return details(map[string]any{"due_date": nil}), nil
		}
		d := due.UTC()
		t.DueDate = &d
		return details(map[string]any{"due_date": d}), nil
	})
}

// AddNote appends a free-text note to the task's audit trail
func (s *TaskService) AddNote(ctx context.Context, id uint64, actor, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return ErrNoteRequired
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	record := &models.AuditRecord{
		Actor:   actor,
		Action:  ActionNote,
		RefType: models.RefTypeTask,
		RefID:   id,
		Details: note,
	}
	if err := s.auditRepo.Append(ctx, record); err != nil {
		return storageErr("append note", err)
	}
	return nil
}

// Converse feeds one dialogue event to an order task. The step runs against the
// stored state inside the versioned update, so concurrent answers cannot both apply.
func (s *TaskService) Converse(ctx context.Context, id uint64, actor string, ev dialogue.Event, loc *time.Location) (*ConverseResult, error) {
	var outcome dialogue.Outcome
	action := ActionDialogueAnswer
	switch ev.Kind {
	case dialogue.EventSelect:
		action = ActionDialogueSelect
	case dialogue.EventCancel:
		action = ActionDialogueCancel
	}

	task, err := s.mutate(ctx, id, actor, action, func(t *models.Task) (string, error) {
		if t.Tag != models.TagOrder {
			return "", ErrNotOrderTask
		}
		if t.Status.IsTerminal() {
			return "", fmt.Errorf("%w: dialogue on a %s task", ErrInvalidTransition, t.Status)
		}
		from := t.DialogueState
		out, err := dialogue.Step(from, t.Order, ev)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		outcome = out

		if out.Order.DeliveryDate != t.Order.DeliveryDate {
			if due, ok := dialogue.ParseDeliveryDate(out.Order.DeliveryDate, s.now(), loc); ok {
				due = due.UTC()
				t.DueDate = &due
			}
		}
		t.Order = out.Order
		t.DialogueState = out.Next

		switch out.Effect {
		case dialogue.EffectCaptured:
			t.Status = models.TaskStatusPendingApproval
			setOrderState(t, models.OrderStatePendingApproval)
		case dialogue.EffectCancelled:
			now := s.now().UTC()
			t.Status = models.TaskStatusRejected
			t.RejectedAt = &now
			t.IsRework = false
			setOrderState(t, models.OrderStateCancelled)
		default:
			if from == models.DialogueCaptured {
				t.Status = models.TaskStatusOpen
				setOrderState(t, models.OrderStateQuoted)
			}
		}
		return details(map[string]any{"from": from, "to": out.Next, "effect": out.Effect}), nil
	})
	if err != nil {
		return nil, err
	}
	return &ConverseResult{Task: task, Outcome: outcome}, nil
}

// Get returns one task
func (s *TaskService) Get(ctx context.Context, id uint64) (*models.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrTaskNotFound
		}
		return nil, storageErr("find task", err)
	}
	return task, nil
}

// List returns tasks matching the filters, newest first
func (s *TaskService) List(ctx context.Context, input ListTasksInput) ([]models.Task, int64, error) {
	tasks, total, err := s.taskRepo.List(ctx, repository.TaskFilter{
		Tag:      input.Tag,
		Status:   input.Status,
		Sender:   input.Sender,
		Query:    input.Query,
		Page:     input.Page,
		PageSize: input.PageSize,
	})
	if err != nil {
		return nil, 0, storageErr("list tasks", err)
	}
	return tasks, total, nil
}

// Summary counts the latest tasks by tag and returns the newest few
func (s *TaskService) Summary(ctx context.Context) (*SummaryResult, error) {
	tasks, _, err := s.taskRepo.List(ctx, repository.TaskFilter{Page: 1, PageSize: constants.SummaryWindow})
	if err != nil {
		return nil, storageErr("summarise tasks", err)
	}

	result := &SummaryResult{CountsByTag: map[models.Tag]int{}}
	for _, t := range tasks {
		tag := t.Tag
		if tag == "" {
			tag = models.TagNone
		}
		result.CountsByTag[tag]++
	}
	latest := tasks
	if len(latest) > constants.SummaryLatest {
		latest = latest[:constants.SummaryLatest]
	}
	result.Latest = latest
	return result, nil
}

// Accuracy scores a subcontractor: finished work without overrun counts as on time
func (s *TaskService) Accuracy(ctx context.Context, subcontractor string) (*AccuracyResult, error) {
	tasks, err := s.taskRepo.ListBySubcontractor(ctx, subcontractor)
	if err != nil {
		return nil, storageErr("load subcontractor tasks", err)
	}

	result := &AccuracyResult{Subcontractor: subcontractor, Total: len(tasks)}
	for _, t := range tasks {
		if t.Status == models.TaskStatusApproved || t.Status == models.TaskStatusDone {
			if t.OverrunDays > 0 {
				result.Overruns++
			} else {
				result.OnTime++
			}
		}
		if t.IsRework {
			result.Reworks++
		}
	}
	if result.Total > 0 {
		result.AccuracyPct = int(float64(result.OnTime)*100/float64(result.Total) + 0.5)
	}
	return result, nil
}

// Audit returns a task's audit trail, oldest first
func (s *TaskService) Audit(ctx context.Context, id uint64) ([]models.AuditRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.auditRepo.ListByRef(ctx, models.RefTypeTask, id)
	if err != nil {
		return nil, storageErr("load audit trail", err)
	}
	return records, nil
}

// mutate loads the task, applies fn and writes it back with one audit record,
// retrying when another writer bumped the version in between.
func (s *TaskService) mutate(ctx context.Context, id uint64, actor, action string, fn func(t *models.Task) (string, error)) (*models.Task, error) {
	for attempt := 1; ; attempt++ {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		info, err := fn(task)
		if err != nil {
			return nil, err
		}

		audit := &models.AuditRecord{Actor: actor, Action: action, Details: info}
		err = s.taskRepo.Update(ctx, task, task.Version, audit)
		if err == nil {
			s.afterCommit(ctx, action, actor, task)
			return task, nil
		}

		switch {
		case repository.IsNotFound(err):
			return nil, ErrTaskNotFound
		case errors.Is(err, repository.ErrVersionConflict):
			if attempt < constants.MaxMutationAttempts {
				logging.FromContext(ctx).Debug("task version conflict, retrying", "task_id", id, "attempt", attempt)
				continue
			}
			return nil, fmt.Errorf("failed to %s task %d: %w: %w", action, id, ErrConcurrentUpdate, err)
		default:
			return nil, storageErr(action, err)
		}
	}
}

func (s *TaskService) afterCommit(ctx context.Context, action, actor string, task *models.Task) {
	s.metrics.Transition(action)
	if s.watcher != nil {
		s.watcher.Watch(*task)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	event := notify.TaskEvent{
		TaskID:     task.ID,
		Action:     action,
		Actor:      actor,
		Tag:        string(task.Tag),
		Status:     string(task.Status),
		OrderState: orderStateOf(task),
		Project:    task.ProjectCode,
		Timestamp:  s.now().UTC(),
	}
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		logging.FromContext(ctx).Warn("failed to publish task event", "task_id", task.ID, "action", action, "error", err)
	}
}

// overrunDays counts whole UTC calendar days between the due date and completion.
func overrunDays(due *time.Time, completed time.Time) int {
	if due == nil {
		return 0
	}
	d := dateUTC(completed).Sub(dateUTC(*due)).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(d)
}

func dateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func setOrderState(t *models.Task, state models.OrderState) {
	t.OrderState = &state
}

func orderStateOf(t *models.Task) string {
	if t.OrderState == nil {
		return ""
	}
	return string(*t.OrderState)
}

func details(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}
