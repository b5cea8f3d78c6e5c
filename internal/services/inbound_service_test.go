package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hubflo/hubflo/internal/dialogue"
	"github.com/hubflo/hubflo/internal/locks"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

const (
	subID   = "447700000001"
	otherID = "447700000002"
	pmID    = "447700000099"
)

type InboundServiceTestSuite struct {
	suite.Suite
	db        *gorm.DB
	ctx       context.Context
	taskRepo  repository.TaskRepository
	tasks     *TaskService
	directory *DirectoryService
	sender    *fakeSender
	service   *InboundService
}

func (suite *InboundServiceTestSuite) SetupTest() {
	suite.db = newTestDB(suite.T())
	suite.ctx = context.Background()
	suite.taskRepo = repository.NewTaskRepository(suite.db)
	suite.tasks = NewTaskService(suite.taskRepo, repository.NewAuditRepository(suite.db), WithClock(fixedClock))
	suite.directory = NewDirectoryService(repository.NewContactRepository(suite.db), "UTC")
	suite.sender = &fakeSender{}
	suite.service = NewInboundService(suite.tasks, suite.taskRepo, suite.directory, suite.sender, locks.NewKeyed())

	for _, c := range []ContactInput{
		{SenderID: subID, Name: "Sam", Role: models.RoleFieldWorker, ProjectCode: "P1", SubcontractorName: "Acme Electrical", Active: true},
		{SenderID: otherID, Name: "Olu", Role: models.RoleFieldWorker, ProjectCode: "P1", Active: true},
		{SenderID: pmID, Name: "Priya", Role: models.RoleManager, ProjectCode: "P1", Active: true},
	} {
		_, err := suite.directory.UpsertContact(suite.ctx, c)
		suite.Require().NoError(err)
	}
	suite.Require().NoError(suite.directory.RouteProject(suite.ctx, "P1", pmID))
}

func (suite *InboundServiceTestSuite) TearDownTest() {
	sqlDB, err := suite.db.DB()
	suite.Require().NoError(err)
	sqlDB.Close()
}

func (suite *InboundServiceTestSuite) send(from, text string) *InboundResult {
	res, err := suite.service.Handle(suite.ctx, Envelope{SenderID: from, Kind: KindText, Text: text})
	suite.Require().NoError(err)
	return res
}

func (suite *InboundServiceTestSuite) task(id uint64) *models.Task {
	task, err := suite.tasks.Get(suite.ctx, id)
	suite.Require().NoError(err)
	return task
}

// captureOrder runs a full order dialogue and returns the captured task id.
func (suite *InboundServiceTestSuite) captureOrder() uint64 {
	res := suite.send(subID, "#order conduit for level 2")
	suite.Require().Equal(OutcomeCreated, res.Outcome)
	for _, answer := range []string{"20mm conduit", "50 lengths", "City Electrical", "tomorrow", "Gate 3"} {
		suite.send(subID, answer)
	}
	return res.TaskID
}

func (suite *InboundServiceTestSuite) TestMalformedEnvelopeDropped() {
	res, err := suite.service.Handle(suite.ctx, Envelope{SenderID: "", Text: "hello"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), OutcomeDropped, res.Outcome)

	res, err = suite.service.Handle(suite.ctx, Envelope{SenderID: subID, Text: "   "})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), OutcomeDropped, res.Outcome)

	all, total, err := suite.tasks.List(suite.ctx, ListTasksInput{})
	suite.Require().NoError(err)
	assert.Zero(suite.T(), total)
	assert.Empty(suite.T(), all)
}

func (suite *InboundServiceTestSuite) TestCreatesTaskWithDirectoryRouting() {
	res := suite.send(subID, "fix the hoarding on the east side")

	assert.Equal(suite.T(), OutcomeCreated, res.Outcome)
	assert.Equal(suite.T(), models.TagTask, res.Tag)

	task := suite.task(res.TaskID)
	assert.Equal(suite.T(), "P1", task.ProjectCode)
	assert.Equal(suite.T(), "Acme Electrical", task.SubcontractorName)
	assert.Contains(suite.T(), suite.sender.Last(subID), "Task #")
}

func (suite *InboundServiceTestSuite) TestMediaWithoutCaptionIsKept() {
	res, err := suite.service.Handle(suite.ctx, Envelope{
		SenderID:       subID,
		Kind:           KindMedia,
		AttachmentURL:  "https://media.example/abc",
		AttachmentMime: "image/jpeg",
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), OutcomeCreated, res.Outcome)
	assert.Equal(suite.T(), models.TagNone, res.Tag)
	assert.Equal(suite.T(), "image/jpeg", suite.task(res.TaskID).AttachmentMime)
}

func (suite *InboundServiceTestSuite) TestUrgentNotifiesManagers() {
	res := suite.send(subID, "#urgent water leak in riser 2")

	assert.Equal(suite.T(), models.TagUrgent, res.Tag)
	assert.True(suite.T(), suite.sender.Contains(pmID, "URGENT"))
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_FullCapture() {
	res := suite.send(subID, "#order conduit for level 2")
	assert.Equal(suite.T(), models.TagOrder, res.Tag)
	assert.Contains(suite.T(), suite.sender.Last(subID), "Item?")
	assert.Equal(suite.T(), models.DialogueAwaitingItem, suite.task(res.TaskID).DialogueState)

	prompts := []string{"Quantity?", "Supplier?", "Delivery date?", "Drop location?"}
	answers := []string{"20mm conduit", "50 lengths", "City Electrical", "tomorrow"}
	for i, answer := range answers {
		r := suite.send(subID, answer)
		assert.Equal(suite.T(), OutcomeDialogue, r.Outcome)
		assert.Equal(suite.T(), res.TaskID, r.TaskID)
		assert.Equal(suite.T(), prompts[i], suite.sender.Last(subID))
	}

	suite.send(subID, "Gate 3")

	task := suite.task(res.TaskID)
	assert.Equal(suite.T(), models.DialogueCaptured, task.DialogueState)
	assert.Equal(suite.T(), models.TaskStatusPendingApproval, task.Status)
	assert.Equal(suite.T(), models.OrderDetails{
		Item:         "20mm conduit",
		Quantity:     "50 lengths",
		Supplier:     "City Electrical",
		DeliveryDate: "tomorrow",
		DropLocation: "Gate 3",
	}, task.Order)
	assert.Contains(suite.T(), suite.sender.Last(subID), "captured and sent for approval")
	assert.True(suite.T(), suite.sender.Contains(pmID, "approve"))

	all, total, err := suite.tasks.List(suite.ctx, ListTasksInput{})
	suite.Require().NoError(err)
	assert.EqualValues(suite.T(), 1, total)
	assert.Len(suite.T(), all, 1)
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_BlankAnswerReprompts() {
	res := suite.send(subID, "#order")
	suite.Require().Equal(models.TagOrder, res.Tag)

	r, err := suite.service.Handle(suite.ctx, Envelope{
		SenderID:      subID,
		Kind:          KindMedia,
		AttachmentURL: "https://media.example/photo",
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), OutcomeDialogue, r.Outcome)
	assert.Equal(suite.T(), "Item?", suite.sender.Last(subID))
	assert.Equal(suite.T(), models.DialogueAwaitingItem, suite.task(res.TaskID).DialogueState)
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_SecondOrderWhileActive() {
	res := suite.send(subID, "#order")
	suite.send(subID, "conduit")

	again := suite.send(subID, "#order something else")
	assert.Equal(suite.T(), OutcomeIgnored, again.Outcome)
	assert.Equal(suite.T(), res.TaskID, again.TaskID)
	assert.Contains(suite.T(), suite.sender.Last(subID), "still in progress")

	_, total, err := suite.tasks.List(suite.ctx, ListTasksInput{})
	suite.Require().NoError(err)
	assert.EqualValues(suite.T(), 1, total)
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_Cancel() {
	res := suite.send(subID, "#order")
	suite.send(subID, "conduit")

	r := suite.send(subID, "cancel")
	assert.Equal(suite.T(), OutcomeDialogue, r.Outcome)

	task := suite.task(res.TaskID)
	assert.Equal(suite.T(), models.TaskStatusRejected, task.Status)
	assert.Equal(suite.T(), models.DialogueNone, task.DialogueState)
	assert.Equal(suite.T(), models.OrderStateCancelled, *task.OrderState)
	assert.False(suite.T(), task.IsRework)

	r = suite.send(subID, "cancel")
	assert.Equal(suite.T(), OutcomeIgnored, r.Outcome)
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_DialoguesArePerSender() {
	mine := suite.send(subID, "#order")
	theirs := suite.send(otherID, "#order")

	suite.send(subID, "conduit")
	suite.send(otherID, "plasterboard")

	assert.Equal(suite.T(), "conduit", suite.task(mine.TaskID).Order.Item)
	assert.Equal(suite.T(), "plasterboard", suite.task(theirs.TaskID).Order.Item)
}

func (suite *InboundServiceTestSuite) TestInteractiveReply_EditsCapturedOrder() {
	id := suite.captureOrder()

	res, err := suite.service.Handle(suite.ctx, Envelope{
		SenderID:           subID,
		Kind:               KindInteractiveReply,
		InteractiveReplyID: dialogue.ReplyID(dialogue.FieldQuantity, id),
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), OutcomeDialogue, res.Outcome)
	assert.Equal(suite.T(), "Quantity?", suite.sender.Last(subID))

	task := suite.task(id)
	assert.Equal(suite.T(), models.DialogueAwaitingQuantity, task.DialogueState)
	assert.Equal(suite.T(), models.TaskStatusOpen, task.Status)

	suite.send(subID, "80 lengths")
	task = suite.task(id)
	assert.Equal(suite.T(), "80 lengths", task.Order.Quantity)
	assert.Equal(suite.T(), models.DialogueCaptured, task.DialogueState)
	assert.Equal(suite.T(), models.TaskStatusPendingApproval, task.Status)
}

func (suite *InboundServiceTestSuite) TestInteractiveReply_IgnoredWhenUnknownOrForeign() {
	id := suite.captureOrder()

	for _, env := range []Envelope{
		{SenderID: subID, Kind: KindInteractiveReply, InteractiveReplyID: "order_colour:1"},
		{SenderID: subID, Kind: KindInteractiveReply, InteractiveReplyID: dialogue.ReplyID(dialogue.FieldItem, 9999)},
		{SenderID: otherID, Kind: KindInteractiveReply, InteractiveReplyID: dialogue.ReplyID(dialogue.FieldItem, id)},
	} {
		res, err := suite.service.Handle(suite.ctx, env)
		suite.Require().NoError(err)
		assert.Equal(suite.T(), OutcomeIgnored, res.Outcome)
	}
	assert.Equal(suite.T(), models.DialogueCaptured, suite.task(id).DialogueState)
}

func (suite *InboundServiceTestSuite) TestInteractiveReply_BlockedByOtherOpenDialogue() {
	captured := suite.captureOrder()
	pending := suite.send(subID, "#order cable trays")
	suite.Require().Equal(OutcomeCreated, pending.Outcome)

	res, err := suite.service.Handle(suite.ctx, Envelope{
		SenderID:           subID,
		Kind:               KindInteractiveReply,
		InteractiveReplyID: dialogue.ReplyID(dialogue.FieldItem, captured),
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), OutcomeIgnored, res.Outcome)
	assert.Equal(suite.T(), pending.TaskID, res.TaskID)
	assert.Contains(suite.T(), suite.sender.Last(subID), "still in progress")

	assert.Equal(suite.T(), models.DialogueCaptured, suite.task(captured).DialogueState)
	assert.Equal(suite.T(), models.DialogueAwaitingItem, suite.task(pending.TaskID).DialogueState)

	open, err := suite.taskRepo.FindActiveDialogue(suite.ctx, subID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), pending.TaskID, open.ID)

	suite.send(subID, "300mm cable tray")
	assert.Equal(suite.T(), "300mm cable tray", suite.task(pending.TaskID).Order.Item)
	assert.Equal(suite.T(), "20mm conduit", suite.task(captured).Order.Item)
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_AnswersThatLookLikeCommands() {
	order := suite.send(subID, "#order conduit")

	for _, answer := range []string{"20mm conduit", "50 lengths", "Done Right Supplies", "tomorrow", "N1 loading bay"} {
		res := suite.send(subID, answer)
		assert.Equal(suite.T(), OutcomeDialogue, res.Outcome, answer)
		assert.Equal(suite.T(), order.TaskID, res.TaskID, answer)
	}

	task := suite.task(order.TaskID)
	assert.Equal(suite.T(), models.DialogueCaptured, task.DialogueState)
	assert.Equal(suite.T(), "Done Right Supplies", task.Order.Supplier)
	assert.Equal(suite.T(), "N1 loading bay", task.Order.DropLocation)
	assert.Equal(suite.T(), models.TaskStatusPendingApproval, task.Status)

	records, err := suite.tasks.Audit(suite.ctx, order.TaskID)
	suite.Require().NoError(err)
	for _, rec := range records {
		assert.NotEqual(suite.T(), ActionNote, rec.Action)
		assert.NotEqual(suite.T(), ActionMarkDone, rec.Action)
	}
}

func (suite *InboundServiceTestSuite) TestOrderDialogue_ConcurrentOrdersFromOneSender() {
	const workers = 2
	var (
		wg      sync.WaitGroup
		results = make([]*InboundResult, workers)
		errs    = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = suite.service.Handle(suite.ctx, Envelope{
				SenderID: subID,
				Kind:     KindText,
				Text:     fmt.Sprintf("#order batch %d", i),
			})
		}()
	}
	wg.Wait()

	outcomes := map[Outcome]int{}
	for i := 0; i < workers; i++ {
		suite.Require().NoError(errs[i])
		outcomes[results[i].Outcome]++
	}
	assert.Equal(suite.T(), map[Outcome]int{OutcomeCreated: 1, OutcomeIgnored: 1}, outcomes)

	all, total, err := suite.tasks.List(suite.ctx, ListTasksInput{})
	suite.Require().NoError(err)
	assert.EqualValues(suite.T(), 1, total)
	suite.Require().Len(all, 1)
	assert.Equal(suite.T(), models.DialogueAwaitingItem, all[0].DialogueState)
}

func (suite *InboundServiceTestSuite) TestInteractiveMenuOnCapture() {
	suite.service = NewInboundService(suite.tasks, suite.taskRepo, suite.directory, suite.sender, locks.NewKeyed(),
		WithInteractiveReplies(true))
	id := suite.captureOrder()

	msgs := suite.sender.To(subID)
	last := msgs[len(msgs)-1]
	suite.Require().Len(last.Menu, 5)
	assert.Equal(suite.T(), dialogue.ReplyID(dialogue.FieldItem, id), last.Menu[0].ID)
}

func (suite *InboundServiceTestSuite) TestChangeRequest_LinksOpenOrder() {
	id := suite.captureOrder()

	res := suite.send(subID, "change the order to 80 lengths")
	assert.Equal(suite.T(), models.TagChange, res.Tag)

	change := suite.task(res.TaskID)
	suite.Require().NotNil(change.ParentID)
	assert.Equal(suite.T(), id, *change.ParentID)
	assert.True(suite.T(), suite.sender.Contains(pmID, "Change request"))
}

func (suite *InboundServiceTestSuite) TestChangeRequest_WithoutOrderIsTask() {
	res := suite.send(subID, "change the order to 80 lengths")
	assert.Equal(suite.T(), models.TagTask, res.Tag)
}

func (suite *InboundServiceTestSuite) TestChangePhraseBypassesDialogue() {
	order := suite.send(subID, "#order")

	res := suite.send(subID, "change the order to copper")
	assert.Equal(suite.T(), OutcomeCreated, res.Outcome)
	assert.Equal(suite.T(), models.TagChange, res.Tag)
	assert.Equal(suite.T(), models.DialogueAwaitingItem, suite.task(order.TaskID).DialogueState)
}

func (suite *InboundServiceTestSuite) TestApprove_LatestPendingForManager() {
	id := suite.captureOrder()

	res := suite.send(pmID, "approve")
	assert.Equal(suite.T(), OutcomeControl, res.Outcome)
	assert.Equal(suite.T(), id, res.TaskID)

	task := suite.task(id)
	assert.Equal(suite.T(), models.TaskStatusApproved, task.Status)
	assert.Equal(suite.T(), models.OrderStateApproved, *task.OrderState)
	assert.Contains(suite.T(), suite.sender.Last(subID), "approved")
}

func (suite *InboundServiceTestSuite) TestApprove_RequiresManager() {
	id := suite.captureOrder()

	res := suite.send(subID, "approve")
	assert.Equal(suite.T(), OutcomeIgnored, res.Outcome)
	assert.Equal(suite.T(), models.TaskStatusPendingApproval, suite.task(id).Status)
}

func (suite *InboundServiceTestSuite) TestReject_ExplicitIDNoRework() {
	id := suite.captureOrder()

	res := suite.send(pmID, "reject #1 no rework")
	assert.Equal(suite.T(), id, res.TaskID)

	task := suite.task(id)
	assert.Equal(suite.T(), models.TaskStatusRejected, task.Status)
	assert.False(suite.T(), task.IsRework)
}

func (suite *InboundServiceTestSuite) TestOrderStateHashtag() {
	id := suite.captureOrder()

	res := suite.send(pmID, "#invoiced 1")
	assert.Equal(suite.T(), OutcomeControl, res.Outcome)
	assert.Equal(suite.T(), models.OrderStateInvoiced, *suite.task(id).OrderState)

	res = suite.send(subID, "#enacted 1")
	assert.Equal(suite.T(), OutcomeIgnored, res.Outcome)
	assert.Equal(suite.T(), models.OrderStateInvoiced, *suite.task(id).OrderState)
}

func (suite *InboundServiceTestSuite) TestQuickCodes() {
	res := suite.send(subID, "install sockets in flat 4")

	r := suite.send(subID, "N1 waiting on keys")
	assert.Equal(suite.T(), OutcomeControl, r.Outcome)

	r = suite.send(subID, "DL1 2d")
	assert.Equal(suite.T(), OutcomeControl, r.Outcome)
	task := suite.task(res.TaskID)
	suite.Require().NotNil(task.DueDate)
	assert.True(suite.T(), task.DueDate.Equal(testNow.AddDate(0, 0, 2)))

	r = suite.send(otherID, "D1")
	assert.Equal(suite.T(), OutcomeIgnored, r.Outcome)
	assert.Equal(suite.T(), models.TaskStatusOpen, suite.task(res.TaskID).Status)

	r = suite.send(subID, "done")
	assert.Equal(suite.T(), OutcomeControl, r.Outcome)
	assert.Equal(suite.T(), models.TaskStatusDone, suite.task(res.TaskID).Status)

	records, err := suite.tasks.Audit(suite.ctx, res.TaskID)
	suite.Require().NoError(err)
	actions := make([]string, 0, len(records))
	for _, rec := range records {
		actions = append(actions, rec.Action)
	}
	assert.Equal(suite.T(), []string{ActionCreate, ActionNote, ActionDelay, ActionMarkDone}, actions)
}

func (suite *InboundServiceTestSuite) TestQuickCode_UnknownTask() {
	r := suite.send(subID, "D42")
	assert.Equal(suite.T(), OutcomeIgnored, r.Outcome)
	assert.Contains(suite.T(), suite.sender.Last(subID), "#42 not found")
}

func (suite *InboundServiceTestSuite) TestStorageFailurePropagates() {
	sqlDB, err := suite.db.DB()
	suite.Require().NoError(err)
	suite.Require().NoError(sqlDB.Close())

	_, err = suite.service.Handle(suite.ctx, Envelope{SenderID: subID, Kind: KindText, Text: "fix the gate"})
	assert.ErrorIs(suite.T(), err, ErrStorageFailure)
}

func TestInboundServiceTestSuite(t *testing.T) {
	suite.Run(t, new(InboundServiceTestSuite))
}
