package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hubflo/hubflo/internal/classifier"
	"github.com/hubflo/hubflo/internal/dialogue"
	"github.com/hubflo/hubflo/internal/locks"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/metrics"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/notify"
	"github.com/hubflo/hubflo/internal/repository"
)

type EnvelopeKind string

const (
	KindText             EnvelopeKind = "text"
	KindMedia            EnvelopeKind = "media"
	KindInteractiveReply EnvelopeKind = "interactive_reply"
)

// Envelope is one normalised inbound chat message.
type Envelope struct {
	SenderID           string
	Kind               EnvelopeKind
	Text               string
	InteractiveReplyID string
	AttachmentURL      string
	AttachmentMime     string
	AttachmentName     string
}

// Outcome labels how an inbound message was handled.
type Outcome string

const (
	OutcomeDropped  Outcome = "dropped"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeCreated  Outcome = "created"
	OutcomeDialogue Outcome = "dialogue"
	OutcomeControl  Outcome = "control"
)

// InboundResult reports what an inbound message did.
type InboundResult struct {
	Outcome Outcome
	TaskID  uint64
	Tag     models.Tag
}

// InboundService runs each chat message through classification, the order
// dialogue and the task lifecycle, serialised per sender.
type InboundService struct {
	tasks       *TaskService
	taskRepo    repository.TaskRepository
	directory   *DirectoryService
	sender      notify.Sender
	locks       *locks.Keyed
	metrics     *metrics.Metrics
	interactive bool
}

type InboundOption func(*InboundService)

// WithInteractiveReplies sends the edit menu instead of a plain confirmation.
func WithInteractiveReplies(enabled bool) InboundOption {
	return func(s *InboundService) {
		s.interactive = enabled
	}
}

func WithInboundMetrics(m *metrics.Metrics) InboundOption {
	return func(s *InboundService) {
		s.metrics = m
	}
}

// NewInboundService creates a new InboundService
func NewInboundService(
	tasks *TaskService,
	taskRepo repository.TaskRepository,
	directory *DirectoryService,
	sender notify.Sender,
	keyed *locks.Keyed,
	opts ...InboundOption,
) *InboundService {
	s := &InboundService{
		tasks:     tasks,
		taskRepo:  taskRepo,
		directory: directory,
		sender:    sender,
		locks:     keyed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle processes one envelope. Malformed envelopes are dropped without error;
// storage failures are returned so the caller can ask the channel to redeliver.
func (s *InboundService) Handle(ctx context.Context, env Envelope) (*InboundResult, error) {
	env.SenderID = strings.TrimSpace(env.SenderID)
	env.Text = strings.TrimSpace(env.Text)
	env.InteractiveReplyID = strings.TrimSpace(env.InteractiveReplyID)

	if env.SenderID == "" || (env.Text == "" && env.InteractiveReplyID == "" && env.AttachmentURL == "") {
		return &InboundResult{Outcome: OutcomeDropped}, nil
	}

	ctx = logging.With(ctx, "sender", env.SenderID)

	var result *InboundResult
	err := s.locks.WithLock(ctx, env.SenderID, func(ctx context.Context) error {
		who, err := s.directory.Lookup(ctx, env.SenderID)
		if err != nil {
			return err
		}
		m := &message{env: env, who: who}

		if env.Kind == KindInteractiveReply || env.InteractiveReplyID != "" {
			result, err = s.handleReply(ctx, m)
			return err
		}
		result, err = s.handleText(ctx, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("inbound message handled",
		"outcome", result.Outcome,
		"task_id", result.TaskID,
		"tag", result.Tag,
	)
	return result, nil
}

type message struct {
	env Envelope
	who Identity
}

func (m *message) actor() string {
	return m.env.SenderID
}

func (s *InboundService) handleReply(ctx context.Context, m *message) (*InboundResult, error) {
	field, taskID, ok := dialogue.ParseReplyID(m.env.InteractiveReplyID)
	if !ok {
		return &InboundResult{Outcome: OutcomeIgnored}, nil
	}
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return &InboundResult{Outcome: OutcomeIgnored}, nil
		}
		return nil, err
	}
	if task.Sender != m.env.SenderID {
		return &InboundResult{Outcome: OutcomeIgnored}, nil
	}

	open, err := s.activeDialogue(ctx, m.env.SenderID)
	if err != nil {
		return nil, err
	}
	if open != nil && open.ID != taskID {
		s.reply(ctx, m, notify.Text(fmt.Sprintf(
			"Order #%d is still in progress. %s Send \"cancel\" to drop it before editing #%d.",
			open.ID, dialogue.Prompt(open.DialogueState), taskID)))
		return &InboundResult{Outcome: OutcomeIgnored, TaskID: open.ID, Tag: models.TagOrder}, nil
	}

	res, err := s.tasks.Converse(ctx, taskID, m.actor(), dialogue.Event{Kind: dialogue.EventSelect, Field: field}, m.who.Location)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotOrderTask) {
			return &InboundResult{Outcome: OutcomeIgnored, TaskID: taskID}, nil
		}
		return nil, err
	}
	s.reply(ctx, m, notify.Text(res.Outcome.Prompt))
	return &InboundResult{Outcome: OutcomeDialogue, TaskID: taskID, Tag: models.TagOrder}, nil
}

func (s *InboundService) handleText(ctx context.Context, m *message) (*InboundResult, error) {
	text := m.env.Text

	open, err := s.activeDialogue(ctx, m.env.SenderID)
	if err != nil {
		return nil, err
	}

	// While an order is being captured only order-level control words skip
	// the dialogue; everything else is the answer to the current step.
	cmd := parseCommand(text)
	if cmd.kind != cmdNone && cmd.kind != cmdCancel && (open == nil || cmd.bypassesDialogue()) {
		return s.runCommand(ctx, m, cmd)
	}

	if cmd.kind == cmdCancel {
		if open == nil {
			s.reply(ctx, m, notify.Text("There is no order in progress to cancel."))
			return &InboundResult{Outcome: OutcomeIgnored}, nil
		}
		return s.converse(ctx, m, open.ID, dialogue.Event{Kind: dialogue.EventCancel})
	}

	hasOpenOrder := open != nil
	if !hasOpenOrder && classifier.MentionsChange(text) {
		if _, err := s.taskRepo.LatestOpenOrder(ctx, m.env.SenderID); err == nil {
			hasOpenOrder = true
		} else if !repository.IsNotFound(err) {
			return nil, storageErr("find open order", err)
		}
	}
	result := classifier.Classify(text, hasOpenOrder)

	if result.OrderStateHint != classifier.HintNone {
		return s.review(ctx, m, result.OrderStateHint)
	}

	if open != nil && result.Tag != models.TagChange {
		if strings.Contains(strings.ToLower(text), "#order") {
			s.reply(ctx, m, notify.Text(fmt.Sprintf(
				"Order #%d is still in progress. %s Send \"cancel\" to drop it.", open.ID, dialogue.Prompt(open.DialogueState))))
			return &InboundResult{Outcome: OutcomeIgnored, TaskID: open.ID, Tag: models.TagOrder}, nil
		}
		return s.converse(ctx, m, open.ID, dialogue.Event{Kind: dialogue.EventAnswer, Text: text})
	}

	s.metrics.Inbound(string(result.Tag))
	return s.create(ctx, m, result)
}

// activeDialogue returns the sender's open order dialogue, or nil.
func (s *InboundService) activeDialogue(ctx context.Context, senderID string) (*models.Task, error) {
	open, err := s.taskRepo.FindActiveDialogue(ctx, senderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, storageErr("find active dialogue", err)
	}
	return open, nil
}

func (s *InboundService) create(ctx context.Context, m *message, result classifier.Result) (*InboundResult, error) {
	input := CreateTaskInput{
		Actor:             m.actor(),
		Sender:            m.env.SenderID,
		Text:              m.env.Text,
		Tag:               result.Tag,
		Subtype:           result.Subtype,
		SubcontractorName: m.who.SubcontractorName,
		ProjectCode:       m.who.ProjectCode,
		AttachmentURL:     m.env.AttachmentURL,
		AttachmentMime:    m.env.AttachmentMime,
		AttachmentName:    m.env.AttachmentName,
	}

	var start dialogue.Outcome
	switch result.Tag {
	case models.TagOrder:
		out, err := dialogue.Step(models.DialogueNone, models.OrderDetails{}, dialogue.Event{Kind: dialogue.EventStart})
		if err != nil {
			return nil, err
		}
		start = out
		input.DialogueState = out.Next
	case models.TagChange:
		parent, err := s.taskRepo.LatestOpenOrder(ctx, m.env.SenderID)
		switch {
		case err == nil:
			input.ParentID = &parent.ID
		case !repository.IsNotFound(err):
			return nil, storageErr("find open order", err)
		}
	}

	task, err := s.tasks.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	switch task.Tag {
	case models.TagOrder:
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Order #%d noted. %s", task.ID, start.Prompt)))
	case models.TagChange:
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Change request #%d logged. Awaiting quotes and approval.", task.ID)))
		s.notifyManagers(ctx, task, fmt.Sprintf("Change request #%d from %s: %s", task.ID, m.who.displayName(), task.Text))
	case models.TagUrgent:
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Urgent task #%d logged. Managers notified.", task.ID)))
		s.notifyManagers(ctx, task, fmt.Sprintf("URGENT #%d from %s: %s", task.ID, m.who.displayName(), task.Text))
	case models.TagTask:
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Task #%d created. We'll remind you before it is due.", task.ID)))
	}

	return &InboundResult{Outcome: OutcomeCreated, TaskID: task.ID, Tag: task.Tag}, nil
}

func (s *InboundService) converse(ctx context.Context, m *message, taskID uint64, ev dialogue.Event) (*InboundResult, error) {
	res, err := s.tasks.Converse(ctx, taskID, m.actor(), ev, m.who.Location)
	if err != nil {
		return nil, err
	}
	task := res.Task

	switch res.Outcome.Effect {
	case dialogue.EffectCaptured:
		summary := dialogue.Summary(task.ID, task.Order)
		if s.interactive {
			s.reply(ctx, m, notify.Message{Text: summary + "\nTap a field to change it.", Menu: menuFor(task.ID)})
		} else {
			s.reply(ctx, m, notify.Text(summary))
		}
		s.notifyManagers(ctx, task, fmt.Sprintf("%s\nFrom %s. Reply \"approve %d\" or \"reject %d\".",
			summary, m.who.displayName(), task.ID, task.ID))
	case dialogue.EffectCancelled:
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Order #%d cancelled.", task.ID)))
	default:
		s.reply(ctx, m, notify.Text(res.Outcome.Prompt))
	}
	return &InboundResult{Outcome: OutcomeDialogue, TaskID: task.ID, Tag: models.TagOrder}, nil
}

func (s *InboundService) review(ctx context.Context, m *message, hint classifier.Hint) (*InboundResult, error) {
	if !m.who.IsManager() {
		s.reply(ctx, m, notify.Text("Only project managers can approve or reject."))
		return &InboundResult{Outcome: OutcomeIgnored}, nil
	}

	taskID, rework := parseReview(m.env.Text)
	if taskID == 0 {
		projects, err := s.directory.ProjectsManagedBy(ctx, m.env.SenderID)
		if err != nil {
			return nil, err
		}
		task, err := s.taskRepo.LatestPendingApproval(ctx, projects)
		if err != nil {
			if repository.IsNotFound(err) {
				s.reply(ctx, m, notify.Text("Nothing is waiting for your approval."))
				return &InboundResult{Outcome: OutcomeIgnored}, nil
			}
			return nil, storageErr("find pending approval", err)
		}
		taskID = task.ID
	}

	var (
		task *models.Task
		err  error
		verb string
	)
	if hint == classifier.HintApprove {
		task, err = s.tasks.Approve(ctx, taskID, m.actor())
		verb = "approved"
	} else {
		task, err = s.tasks.Reject(ctx, taskID, m.actor(), rework)
		verb = "rejected"
		if rework {
			verb = "rejected, rework needed"
		}
	}
	if err != nil {
		return s.controlFailed(ctx, m, taskID, err)
	}

	s.reply(ctx, m, notify.Text(fmt.Sprintf("Task #%d %s.", task.ID, verb)))
	if task.Sender != m.env.SenderID {
		s.send(ctx, task.Sender, notify.Text(fmt.Sprintf("Your task #%d was %s.", task.ID, verb)))
	}
	return &InboundResult{Outcome: OutcomeControl, TaskID: task.ID, Tag: task.Tag}, nil
}

func (s *InboundService) runCommand(ctx context.Context, m *message, cmd command) (*InboundResult, error) {
	if cmd.kind == cmdOrderState {
		return s.setOrderState(ctx, m, cmd)
	}

	target, err := s.commandTarget(ctx, m, cmd.taskID)
	if err != nil {
		return s.controlFailed(ctx, m, cmd.taskID, err)
	}
	if target.Sender != m.env.SenderID && !m.who.IsManager() {
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Task #%d is not yours to update.", target.ID)))
		return &InboundResult{Outcome: OutcomeIgnored, TaskID: target.ID}, nil
	}

	switch cmd.kind {
	case cmdDone:
		task, err := s.tasks.MarkDone(ctx, target.ID, m.actor())
		if err != nil {
			return s.controlFailed(ctx, m, target.ID, err)
		}
		msg := fmt.Sprintf("Task #%d marked done.", task.ID)
		if task.OverrunDays > 0 {
			msg = fmt.Sprintf("Task #%d marked done, %d day(s) late.", task.ID, task.OverrunDays)
		}
		s.reply(ctx, m, notify.Text(msg))

	case cmdDelay:
		task, err := s.tasks.Delay(ctx, target.ID, m.actor(), cmd.delay)
		if err != nil {
			return s.controlFailed(ctx, m, target.ID, err)
		}
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Task #%d now due %s.",
			task.ID, task.DueDate.In(m.who.Location).Format("Mon 2 Jan 15:04"))))

	case cmdNote, cmdETA:
		note := cmd.text
		if cmd.kind == cmdETA {
			note = "ETA " + cmd.text
		}
		if err := s.tasks.AddNote(ctx, target.ID, m.actor(), note); err != nil {
			return s.controlFailed(ctx, m, target.ID, err)
		}
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Noted on task #%d.", target.ID)))

	case cmdChangeOrder:
		parentID := target.ID
		task, err := s.tasks.Create(ctx, CreateTaskInput{
			Actor:             m.actor(),
			Sender:            m.env.SenderID,
			Text:              cmd.text,
			Tag:               models.TagChange,
			Subtype:           models.SubtypeAssigned,
			ParentID:          &parentID,
			SubcontractorName: m.who.SubcontractorName,
			ProjectCode:       target.ProjectCode,
		})
		if err != nil {
			return nil, err
		}
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Change request #%d logged against #%d.", task.ID, parentID)))
		s.notifyManagers(ctx, task, fmt.Sprintf("Change request #%d on #%d from %s: %s",
			task.ID, parentID, m.who.displayName(), task.Text))
		return &InboundResult{Outcome: OutcomeCreated, TaskID: task.ID, Tag: models.TagChange}, nil
	}

	return &InboundResult{Outcome: OutcomeControl, TaskID: target.ID, Tag: target.Tag}, nil
}

func (s *InboundService) setOrderState(ctx context.Context, m *message, cmd command) (*InboundResult, error) {
	if !m.who.IsManager() {
		s.reply(ctx, m, notify.Text("Only project managers can change an order state."))
		return &InboundResult{Outcome: OutcomeIgnored}, nil
	}
	if cmd.taskID == 0 {
		s.reply(ctx, m, notify.Text(fmt.Sprintf("Which order? Send #%s <task id>.", cmd.state)))
		return &InboundResult{Outcome: OutcomeIgnored}, nil
	}

	task, err := s.tasks.SetOrderState(ctx, cmd.taskID, m.actor(), string(cmd.state))
	if err != nil {
		return s.controlFailed(ctx, m, cmd.taskID, err)
	}
	s.reply(ctx, m, notify.Text(fmt.Sprintf("Order #%d is now %s.", task.ID, cmd.state)))
	if task.Sender != m.env.SenderID {
		s.send(ctx, task.Sender, notify.Text(fmt.Sprintf("Your order #%d is now %s.", task.ID, cmd.state)))
	}
	return &InboundResult{Outcome: OutcomeControl, TaskID: task.ID, Tag: task.Tag}, nil
}

// commandTarget resolves an explicit id, or the sender's latest open task.
func (s *InboundService) commandTarget(ctx context.Context, m *message, taskID uint64) (*models.Task, error) {
	if taskID != 0 {
		return s.tasks.Get(ctx, taskID)
	}
	task, err := s.taskRepo.LatestForSender(ctx, m.env.SenderID, models.ActiveStatuses...)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrTaskNotFound
		}
		return nil, storageErr("find latest task", err)
	}
	return task, nil
}

// controlFailed turns rule violations into a chat reply; storage failures propagate.
func (s *InboundService) controlFailed(ctx context.Context, m *message, taskID uint64, err error) (*InboundResult, error) {
	var msg string
	switch {
	case errors.Is(err, ErrStorageFailure):
		return nil, err
	case errors.Is(err, ErrTaskNotFound):
		if taskID == 0 {
			msg = "You have no open task to update."
		} else {
			msg = fmt.Sprintf("Task #%d not found.", taskID)
		}
	case errors.Is(err, ErrDialogueActive):
		msg = fmt.Sprintf("Order #%d is still being captured.", taskID)
	case errors.Is(err, ErrNotOrderTask):
		msg = fmt.Sprintf("Task #%d is not an order.", taskID)
	case errors.Is(err, ErrConcurrentUpdate):
		msg = fmt.Sprintf("Task #%d is being updated by someone else. Try again.", taskID)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidDelay), errors.Is(err, ErrNoteRequired):
		msg = fmt.Sprintf("Task #%d cannot be updated that way right now.", taskID)
	default:
		return nil, err
	}
	logging.FromContext(ctx).Info("control message rejected", "task_id", taskID, "reason", err.Error())
	s.reply(ctx, m, notify.Text(msg))
	return &InboundResult{Outcome: OutcomeIgnored, TaskID: taskID}, nil
}

func (s *InboundService) notifyManagers(ctx context.Context, task *models.Task, text string) {
	managers, err := s.directory.ManagersFor(ctx, task.ProjectCode)
	if err != nil {
		logging.FromContext(ctx).Warn("failed to load project managers", "project", task.ProjectCode, "error", err)
		return
	}
	notify.Broadcast(ctx, s.sender, managers, notify.Text(text))
}

func (s *InboundService) reply(ctx context.Context, m *message, msg notify.Message) {
	s.send(ctx, m.env.SenderID, msg)
}

func (s *InboundService) send(ctx context.Context, to string, msg notify.Message) {
	if msg.Text == "" || to == "" {
		return
	}
	if !s.sender.Send(ctx, to, msg) {
		logging.FromContext(ctx).Warn("reply not delivered", "to", to)
	}
}

func menuFor(taskID uint64) []notify.Choice {
	choices := dialogue.Menu(taskID)
	out := make([]notify.Choice, 0, len(choices))
	for _, c := range choices {
		out = append(out, notify.Choice{ID: c.ID, Title: c.Title})
	}
	return out
}

func (i Identity) displayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.SenderID
}
