package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/metrics"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/notify"
	"github.com/hubflo/hubflo/internal/repository"
	"github.com/hubflo/hubflo/internal/services"
)

// Directory is the slice of the identity directory the scheduler reads.
type Directory interface {
	Lookup(ctx context.Context, senderID string) (services.Identity, error)
	ActiveIdentities(ctx context.Context) ([]services.Identity, error)
	ManagersFor(ctx context.Context, projectCode string) ([]string, error)
	ProjectsManagedBy(ctx context.Context, managerSenderID string) ([]string, error)
}

type Config struct {
	// Tick caps how long the loop sleeps between wakes.
	Tick time.Duration
	// Resync is how often the queue is rebuilt from storage.
	Resync      time.Duration
	FieldHour   int
	ManagerHour int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.Resync <= 0 {
		c.Resync = 15 * time.Minute
	}
	if c.FieldHour < 0 || c.FieldHour > 23 {
		c.FieldHour = 6
	}
	if c.ManagerHour < 0 || c.ManagerHour > 23 {
		c.ManagerHour = 18
	}
	return c
}

// Scheduler wakes for the next threshold crossing of every open task and the
// next digest of every active contact. Sent notices are recorded in the ledger
// so restarts and repeated wakes never send twice.
type Scheduler struct {
	tasks     repository.TaskRepository
	ledger    repository.LedgerRepository
	directory Directory
	sender    notify.Sender
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time

	mu         sync.Mutex
	wakes      *wakeSet
	schedules  schedules
	lastResync time.Time

	tickMu sync.Mutex
	signal chan struct{}
}

type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(
	tasks repository.TaskRepository,
	ledger repository.LedgerRepository,
	directory Directory,
	sender notify.Sender,
	cfg Config,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		tasks:     tasks,
		ledger:    ledger,
		directory: directory,
		sender:    sender,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		wakes:     newWakeSet(),
		schedules: schedules{},
		signal:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run loops until ctx is cancelled. The first pass rebuilds the queue and
// catches up digests whose hour already passed today.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	logger.Info("escalation scheduler started",
		"tick", s.cfg.Tick,
		"resync", s.cfg.Resync,
		"field_hour", s.cfg.FieldHour,
		"manager_hour", s.cfg.ManagerHour,
	)

	s.Tick(ctx, s.now())
	for {
		wait := s.cfg.Tick
		if next, ok := s.NextWake(); ok {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("escalation scheduler stopped")
			return ctx.Err()
		case <-s.signal:
			timer.Stop()
		case <-timer.C:
		}
		s.Tick(ctx, s.now())
	}
}

// Tick handles every wake due at now, then resyncs from storage when the last
// resync is older than the configured interval.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	due := s.wakes.popDue(now)
	s.mu.Unlock()

	for _, item := range due {
		if item.recipient != nil {
			s.runDigest(ctx, *item.recipient, now)
		} else {
			s.runTask(ctx, item.taskID, now)
		}
	}

	s.mu.Lock()
	first := s.lastResync.IsZero()
	stale := first || now.Sub(s.lastResync) >= s.cfg.Resync
	s.mu.Unlock()
	if stale {
		s.resync(ctx, now, first)
	}

	s.metrics.WakeQueue(s.Len())
}

// Watch (re)schedules a task after it changed. It never blocks on storage.
func (s *Scheduler) Watch(task models.Task) {
	now := s.now()

	s.mu.Lock()
	s.scheduleTask(&task, now)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// NextWake reports the earliest pending wake.
func (s *Scheduler) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes.peek()
}

// Len is the number of pending wakes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakes.len()
}

// scheduleTask puts the task's next wake, or drops it when nothing is left to
// send. A task already inside a bucket wakes immediately; the ledger dedups.
// Caller must hold s.mu.
func (s *Scheduler) scheduleTask(task *models.Task, now time.Time) {
	key := taskKey(task.ID)
	if !task.IsActive() || task.DueDate == nil {
		s.wakes.remove(key)
		return
	}

	start, due := task.StartTime(), *task.DueDate
	at := now
	if Bucketize(start, due, now) == BucketNone {
		next, ok := NextCrossing(start, due, now)
		if !ok {
			s.wakes.remove(key)
			return
		}
		at = next
	}
	s.wakes.put(&wakeItem{key: key, at: at, taskID: task.ID})
}

// scheduleDigest puts the recipient's next digest. Caller must hold s.mu.
func (s *Scheduler) scheduleDigest(ctx context.Context, who services.Identity, now time.Time, catchUp bool) {
	loc := locationOf(who)
	hour := s.digestHour(who)
	sched, err := s.schedules.get(loc, hour)
	if err != nil {
		logging.FromContext(ctx).Warn("digest schedule unavailable, using UTC", "recipient", who.SenderID, "error", err)
		loc = time.UTC
		if sched, err = s.schedules.get(loc, hour); err != nil {
			return
		}
	}
	recipient := who
	s.wakes.put(&wakeItem{
		key:       digestKey(who.SenderID),
		at:        nextDigest(sched, loc, hour, now, catchUp),
		recipient: &recipient,
	})
}

func (s *Scheduler) digestHour(who services.Identity) int {
	if who.IsManager() {
		return s.cfg.ManagerHour
	}
	return s.cfg.FieldHour
}

// resync rebuilds wakes from storage. Tasks are only added: a stale task wake
// is dropped when it fires.
func (s *Scheduler) resync(ctx context.Context, now time.Time, catchUp bool) {
	logger := logging.FromContext(ctx)

	tasks, err := s.tasks.ListActiveWithDueDate(ctx)
	if err != nil {
		logger.Error("escalation resync failed to load tasks", "error", err)
	}
	identities, idErr := s.directory.ActiveIdentities(ctx)
	if idErr != nil {
		logger.Error("escalation resync failed to load contacts", "error", idErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range tasks {
		s.scheduleTask(&tasks[i], now)
	}
	if idErr == nil {
		active := make(map[string]bool, len(identities))
		for _, who := range identities {
			key := digestKey(who.SenderID)
			active[key] = true
			s.scheduleDigest(ctx, who, now, catchUp)
		}
		for key, item := range s.wakes.items {
			if item.recipient != nil && !active[key] {
				s.wakes.remove(key)
			}
		}
	}
	if idErr != nil && catchUp {
		// retry the catch-up pass on the next tick
		return
	}
	s.lastResync = now

	logger.Debug("escalation queue resynced", "tasks", len(tasks), "contacts", len(identities), "wakes", s.wakes.len())
}

func (s *Scheduler) runTask(ctx context.Context, id uint64, now time.Time) {
	logger := logging.FromContext(ctx).With("task_id", id)

	task, err := s.tasks.FindByID(ctx, id)
	if err != nil {
		if !repository.IsNotFound(err) {
			logger.Warn("escalation skipped task", "error", err)
		}
		return
	}
	if !task.IsActive() || task.DueDate == nil {
		return
	}

	if bucket := Bucketize(task.StartTime(), *task.DueDate, now); bucket != BucketNone {
		s.nudge(ctx, task, bucket, now)
	}

	if next, ok := NextCrossing(task.StartTime(), *task.DueDate, now); ok {
		s.mu.Lock()
		s.wakes.put(&wakeItem{key: taskKey(task.ID), at: next, taskID: task.ID})
		s.mu.Unlock()
	}
}

func (s *Scheduler) nudge(ctx context.Context, task *models.Task, bucket Bucket, now time.Time) {
	logger := logging.FromContext(ctx).With("task_id", task.ID, "bucket", bucket)

	sent, err := s.ledger.MarkEscalationSent(ctx, &models.EscalationNotice{
		TaskID:  task.ID,
		Bucket:  string(bucket),
		DueUnix: task.DueDate.Unix(),
		SentAt:  now,
	})
	if err != nil {
		logger.Warn("failed to record escalation notice", "error", err)
		return
	}
	if !sent {
		return
	}

	loc := time.UTC
	if who, err := s.directory.Lookup(ctx, task.Sender); err == nil {
		loc = locationOf(who)
	}
	recipients := []string{task.Sender}
	managers, err := s.directory.ManagersFor(ctx, task.ProjectCode)
	if err != nil {
		logger.Warn("failed to load project managers", "project", task.ProjectCode, "error", err)
	}
	recipients = append(recipients, managers...)

	delivered := notify.Broadcast(ctx, s.sender, recipients, notify.Text(nudgeText(task, bucket, loc)))
	s.metrics.Escalation(string(bucket))
	logger.Info("escalation sent", "recipients", len(recipients), "delivered", delivered)
}

func (s *Scheduler) runDigest(ctx context.Context, who services.Identity, now time.Time) {
	logger := logging.FromContext(ctx).With("recipient", who.SenderID, "role", who.Role)

	defer func() {
		s.mu.Lock()
		s.scheduleDigest(ctx, who, now, false)
		s.mu.Unlock()
	}()

	tasks, err := s.relevantTasks(ctx, who)
	if err != nil {
		logger.Warn("digest skipped", "error", err)
		return
	}
	if len(tasks) == 0 {
		logger.Debug("digest skipped, no open tasks")
		return
	}

	loc := locationOf(who)
	sent, err := s.ledger.MarkDigestSent(ctx, &models.DigestLedger{
		RecipientID: who.SenderID,
		Day:         now.In(loc).Format(digestDayLayout),
		TaskCount:   len(tasks),
		SentAt:      now,
	})
	if err != nil {
		logger.Warn("failed to record digest", "error", err)
		return
	}
	if !sent {
		return
	}

	report := Classify(tasks, now)
	ok := s.sender.Send(ctx, who.SenderID, notify.Text(renderDigest(who, report, loc)))
	s.metrics.Digest(string(who.Role))
	logger.Info("digest sent", "tasks", len(tasks), "delivered", ok)
}

// relevantTasks: a field worker sees what they sent or what is routed to their
// subcontractor; a manager sees their projects and what they sent.
func (s *Scheduler) relevantTasks(ctx context.Context, who services.Identity) ([]models.Task, error) {
	scope := repository.TaskScope{SenderID: who.SenderID}
	if who.IsManager() {
		projects, err := s.directory.ProjectsManagedBy(ctx, who.SenderID)
		if err != nil {
			return nil, err
		}
		scope.ProjectCodes = projects
	} else {
		scope.SubcontractorName = who.SubcontractorName
	}
	return s.tasks.ListActiveForScope(ctx, scope)
}
