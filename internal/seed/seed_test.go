package seed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hubflo/hubflo/internal/database"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/repository"
	"github.com/hubflo/hubflo/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "time/tzdata"
)

const siteYAML = `
contacts:
  - sender_id: "10000000001"
    name: PM One
    role: pm
    project_code: P1
    timezone: Europe/London
  - sender_id: "10000000002"
    name: John Plumbing
    role: sub
    project_code: P1
    subcontractor_name: plumbing
  - sender_id: "10000000003"
    name: Ace Painting
    role: sub
    project_code: P1
    subcontractor_name: painting
    active: false
project_managers:
  - project_code: P1
    manager: "10000000001"
tasks:
  - sender: "10000000002"
    text: Fix leaking pipe in unit 2
    tag: task
    project_code: P1
    subcontractor_name: plumbing
    due_in: 48h
  - sender: "10000000002"
    text: need 10 lengths of 22mm copper
    tag: order
    project_code: P1
`

var seedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newServices(t *testing.T) (*services.DirectoryService, *services.TaskService) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})
	require.NoError(t, database.MigrateDatabase(db))

	directory := services.NewDirectoryService(repository.NewContactRepository(db), "UTC")
	tasks := services.NewTaskService(repository.NewTaskRepository(db), repository.NewAuditRepository(db))
	return directory, tasks
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	file, err := Decode(strings.NewReader(siteYAML))
	require.NoError(t, err)

	directory, tasks := newServices(t)
	report, err := Apply(ctx, file, directory, tasks, seedNow, false)
	require.NoError(t, err)
	assert.Equal(t, Report{Contacts: 3, Routes: 1, Tasks: 2}, report)

	pm, err := directory.Lookup(ctx, "10000000001")
	require.NoError(t, err)
	assert.True(t, pm.IsManager())
	assert.Equal(t, "Europe/London", pm.Location.String())

	managers, err := directory.ManagersFor(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10000000001"}, managers)

	active, err := directory.ActiveIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	task, err := tasks.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, task.DueDate)
	assert.True(t, seedNow.Add(48*time.Hour).Equal(*task.DueDate))
	assert.Equal(t, "plumbing", task.SubcontractorName)

	order, err := tasks.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.TagOrder, order.Tag)
	require.NotNil(t, order.OrderState)
	assert.Equal(t, models.OrderStateQuoted, *order.OrderState)
}

func TestApply_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	file, err := Decode(strings.NewReader(siteYAML))
	require.NoError(t, err)

	directory, tasks := newServices(t)
	report, err := Apply(ctx, file, directory, tasks, seedNow, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tasks)

	_, total, err := tasks.List(ctx, services.ListTasksInput{})
	require.NoError(t, err)
	assert.Zero(t, total)

	who, err := directory.Lookup(ctx, "10000000001")
	require.NoError(t, err)
	assert.False(t, who.Known)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing sender", "contacts:\n  - role: pm\n", "sender_id is required"},
		{"bad role", "contacts:\n  - sender_id: \"1\"\n    role: boss\n", "role must be"},
		{"bad tag", "tasks:\n  - sender: \"1\"\n    text: x\n    tag: invoice\n", "unknown tag"},
		{"bad due", "tasks:\n  - sender: \"1\"\n    text: x\n    due_in: soon\n", "due_in"},
		{"unknown field", "contacts:\n  - sender_id: \"1\"\n    role: pm\n    phone: x\n", "field phone not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
