package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubflo/hubflo/internal/database"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/notify"
	"github.com/hubflo/hubflo/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return testNow
}

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.MigrateDatabase(db))
	return db
}

type sentMessage struct {
	To  string
	Msg notify.Message
}

// fakeSender records every outbound message.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (f *fakeSender) Send(_ context.Context, recipient string, msg notify.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: recipient, Msg: msg})
	return !f.fail
}

func (f *fakeSender) To(recipient string) []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Message
	for _, s := range f.sent {
		if s.To == recipient {
			out = append(out, s.Msg)
		}
	}
	return out
}

func (f *fakeSender) Last(recipient string) string {
	msgs := f.To(recipient)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

func (f *fakeSender) Contains(recipient, substr string) bool {
	for _, m := range f.To(recipient) {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

func (f *fakeSender) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type recordingWatcher struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (w *recordingWatcher) Watch(task models.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, task)
}

// conflictingRepo fails the first conflicts updates with ErrVersionConflict.
type conflictingRepo struct {
	repository.TaskRepository
	conflicts int
	calls     int
}

func (r *conflictingRepo) Update(ctx context.Context, task *models.Task, expectedVersion uint64, audit *models.AuditRecord) error {
	r.calls++
	if r.calls <= r.conflicts {
		return repository.ErrVersionConflict
	}
	return r.TaskRepository.Update(ctx, task, expectedVersion, audit)
}
