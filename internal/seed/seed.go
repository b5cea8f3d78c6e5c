// Package seed loads a site directory (contacts, project routing and optional
// starter tasks) from YAML into the database.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hubflo/hubflo/internal/constants"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/services"
	"gopkg.in/yaml.v3"
)

type File struct {
	Contacts        []Contact `yaml:"contacts"`
	ProjectManagers []Route   `yaml:"project_managers"`
	Tasks           []Task    `yaml:"tasks"`
}

type Contact struct {
	SenderID          string `yaml:"sender_id"`
	Name              string `yaml:"name"`
	Role              string `yaml:"role"`
	ProjectCode       string `yaml:"project_code"`
	SubcontractorName string `yaml:"subcontractor_name"`
	Timezone          string `yaml:"timezone"`
	// Active defaults to true.
	Active *bool `yaml:"active"`
}

type Route struct {
	ProjectCode string `yaml:"project_code"`
	Manager     string `yaml:"manager"`
}

type Task struct {
	Sender            string `yaml:"sender"`
	Text              string `yaml:"text"`
	Tag               string `yaml:"tag"`
	Subtype           string `yaml:"subtype"`
	ProjectCode       string `yaml:"project_code"`
	SubcontractorName string `yaml:"subcontractor_name"`
	// DueIn is a Go duration relative to the seed run, e.g. "48h".
	DueIn string `yaml:"due_in"`
}

// Report counts what Apply wrote, or would write on a dry run.
type Report struct {
	Contacts int
	Routes   int
	Tasks    int
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := file.validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *File) validate() error {
	for i, c := range f.Contacts {
		if strings.TrimSpace(c.SenderID) == "" {
			return fmt.Errorf("contacts[%d]: sender_id is required", i)
		}
		role := models.ContactRole(c.Role)
		if role != models.RoleManager && role != models.RoleFieldWorker {
			return fmt.Errorf("contacts[%d]: role must be %q or %q", i, models.RoleManager, models.RoleFieldWorker)
		}
	}
	for i, r := range f.ProjectManagers {
		if r.ProjectCode == "" || r.Manager == "" {
			return fmt.Errorf("project_managers[%d]: project_code and manager are required", i)
		}
	}
	for i, t := range f.Tasks {
		if t.Sender == "" || strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("tasks[%d]: sender and text are required", i)
		}
		if t.Tag != "" && !models.Tag(t.Tag).IsValid() {
			return fmt.Errorf("tasks[%d]: unknown tag %q", i, t.Tag)
		}
		if t.Subtype != "" && !models.Subtype(t.Subtype).IsValid() {
			return fmt.Errorf("tasks[%d]: unknown subtype %q", i, t.Subtype)
		}
		if t.DueIn != "" {
			if _, err := time.ParseDuration(t.DueIn); err != nil {
				return fmt.Errorf("tasks[%d]: due_in: %w", i, err)
			}
		}
	}
	return nil
}

// Apply writes the file through the directory and task services. Contacts
// are upserted, so re-running a seed only duplicates its tasks.
func Apply(ctx context.Context, f *File, directory *services.DirectoryService, tasks *services.TaskService, now time.Time, dryRun bool) (Report, error) {
	logger := logging.FromContext(ctx)
	var report Report

	for _, c := range f.Contacts {
		active := c.Active == nil || *c.Active
		if !dryRun {
			if _, err := directory.UpsertContact(ctx, services.ContactInput{
				SenderID:          c.SenderID,
				Name:              c.Name,
				Role:              models.ContactRole(c.Role),
				ProjectCode:       c.ProjectCode,
				SubcontractorName: c.SubcontractorName,
				Timezone:          c.Timezone,
				Active:            active,
			}); err != nil {
				return report, fmt.Errorf("contact %s: %w", c.SenderID, err)
			}
		}
		report.Contacts++
		logger.Debug("seeded contact", "sender", c.SenderID, "role", c.Role, "dry_run", dryRun)
	}

	for _, r := range f.ProjectManagers {
		if !dryRun {
			if err := directory.RouteProject(ctx, r.ProjectCode, r.Manager); err != nil {
				return report, fmt.Errorf("route %s: %w", r.ProjectCode, err)
			}
		}
		report.Routes++
	}

	for _, t := range f.Tasks {
		var due *time.Time
		if t.DueIn != "" {
			d, _ := time.ParseDuration(t.DueIn)
			at := now.Add(d).UTC()
			due = &at
		}
		if !dryRun {
			if _, err := tasks.Create(ctx, services.CreateTaskInput{
				Actor:             constants.ActorSystem,
				Sender:            t.Sender,
				Text:              strings.TrimSpace(t.Text),
				Tag:               models.Tag(t.Tag),
				Subtype:           models.Subtype(t.Subtype),
				DueDate:           due,
				ProjectCode:       t.ProjectCode,
				SubcontractorName: t.SubcontractorName,
			}); err != nil {
				return report, fmt.Errorf("task %q: %w", t.Text, err)
			}
		}
		report.Tasks++
	}

	logger.Info("seed applied", "contacts", report.Contacts, "routes", report.Routes, "tasks", report.Tasks, "dry_run", dryRun)
	return report, nil
}
