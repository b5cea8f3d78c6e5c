package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/hubflo/hubflo/internal/models"
	"github.com/hubflo/hubflo/internal/services"
	"github.com/robfig/cron/v3"
)

const digestDayLayout = "2006-01-02"

// digestLine is the daily cron line for hour in loc.
func digestLine(loc *time.Location, hour int) string {
	return fmt.Sprintf("CRON_TZ=%s 0 %d * * *", loc.String(), hour)
}

// schedules caches parsed digest schedules by cron line.
type schedules map[string]cron.Schedule

func (c schedules) get(loc *time.Location, hour int) (cron.Schedule, error) {
	line := digestLine(loc, hour)
	if s, ok := c[line]; ok {
		return s, nil
	}
	s, err := cron.ParseStandard(line)
	if err != nil {
		return nil, fmt.Errorf("parse digest schedule %q: %w", line, err)
	}
	c[line] = s
	return s, nil
}

// nextDigest is the next digest instant after now. With catchUp, a digest
// whose hour already passed today is due immediately.
func nextDigest(sched cron.Schedule, loc *time.Location, hour int, now time.Time, catchUp bool) time.Time {
	if catchUp {
		local := now.In(loc)
		today := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
		if !local.Before(today) {
			return now
		}
	}
	return sched.Next(now)
}

func locationOf(who services.Identity) *time.Location {
	if who.Location == nil {
		return time.UTC
	}
	return who.Location
}

// renderDigest lists a recipient's open tasks, most urgent first.
func renderDigest(who services.Identity, report Report, loc *time.Location) string {
	var b strings.Builder
	name := who.Name
	if name == "" {
		name = who.SenderID
	}
	fmt.Fprintf(&b, "Daily digest for %s: %d open task(s).", name, report.Len())

	sections := []struct {
		title string
		tasks []models.Task
	}{
		{"Overdue", report.Overdue},
		{"Due very soon", report.Nudge90},
		{"Due soon", report.Nudge80},
		{"Open", report.None},
	}
	for _, sec := range sections {
		if len(sec.tasks) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s:", sec.title)
		for _, t := range sec.tasks {
			fmt.Fprintf(&b, "\n#%d [%s] %s", t.ID, t.Tag, snippet(t.Text, 60))
			if t.DueDate != nil {
				fmt.Fprintf(&b, " (due %s)", t.DueDate.In(loc).Format("Mon 2 Jan 15:04"))
			}
		}
	}
	return b.String()
}

func nudgeText(t *models.Task, bucket Bucket, loc *time.Location) string {
	due := t.DueDate.In(loc).Format("Mon 2 Jan 15:04")
	switch bucket {
	case BucketOverdue:
		return fmt.Sprintf("Overdue: task #%d was due %s. %s", t.ID, due, snippet(t.Text, 80))
	case BucketNudge90:
		return fmt.Sprintf("Due very soon: task #%d is due %s. %s", t.ID, due, snippet(t.Text, 80))
	default:
		return fmt.Sprintf("Reminder: task #%d is due %s. %s", t.ID, due, snippet(t.Text, 80))
	}
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
