// Package escalation nudges senders and managers as due dates approach and
// sends each contact a once-a-day digest of their open work.
package escalation

import (
	"time"

	"github.com/hubflo/hubflo/internal/models"
)

type Bucket string

const (
	BucketNone    Bucket = "none"
	BucketNudge80 Bucket = "nudge_80"
	BucketNudge90 Bucket = "nudge_90"
	BucketOverdue Bucket = "overdue"
)

// thresholds are the bucket boundaries in tenths of the start..due window, lowest first.
var thresholds = []struct {
	tenths int64
	bucket Bucket
}{
	{8, BucketNudge80},
	{9, BucketNudge90},
	{10, BucketOverdue},
}

// Ratio is the elapsed share of the start..due window. A window that is empty
// or inverted counts as fully elapsed.
func Ratio(start, due, now time.Time) float64 {
	span := due.Sub(start)
	if span <= 0 {
		return 1
	}
	return float64(now.Sub(start)) / float64(span)
}

// Bucketize places one task in exactly one bucket, highest threshold first.
func Bucketize(start, due, now time.Time) Bucket {
	span := due.Sub(start)
	if span <= 0 {
		return BucketOverdue
	}
	elapsed := now.Sub(start)
	for i := len(thresholds) - 1; i >= 0; i-- {
		if elapsed >= crossing(span, thresholds[i].tenths) {
			return thresholds[i].bucket
		}
	}
	return BucketNone
}

// crossing is the offset into a window of length span at which tenths/10 of it
// has elapsed, rounded up to the next nanosecond. It splits span before
// multiplying so windows of any length stay within int64.
func crossing(span time.Duration, tenths int64) time.Duration {
	q, r := int64(span)/10, int64(span)%10
	return time.Duration(q*tenths + (r*tenths+9)/10)
}

// NextCrossing returns the first threshold instant strictly after now.
// It reports false once the task is overdue or the window is empty.
func NextCrossing(start, due, now time.Time) (time.Time, bool) {
	span := due.Sub(start)
	if span <= 0 {
		return time.Time{}, false
	}
	for _, th := range thresholds {
		at := start.Add(crossing(span, th.tenths))
		if at.After(now) {
			return at, true
		}
	}
	return time.Time{}, false
}

// Report groups tasks by bucket. Tasks without a due date land in None.
type Report struct {
	Overdue []models.Task
	Nudge90 []models.Task
	Nudge80 []models.Task
	None    []models.Task
}

// Classify buckets every task exactly once.
func Classify(tasks []models.Task, now time.Time) Report {
	var r Report
	for _, t := range tasks {
		if t.DueDate == nil {
			r.None = append(r.None, t)
			continue
		}
		switch Bucketize(t.StartTime(), *t.DueDate, now) {
		case BucketOverdue:
			r.Overdue = append(r.Overdue, t)
		case BucketNudge90:
			r.Nudge90 = append(r.Nudge90, t)
		case BucketNudge80:
			r.Nudge80 = append(r.Nudge80, t)
		default:
			r.None = append(r.None, t)
		}
	}
	return r
}

// Len is the number of tasks in the report.
func (r Report) Len() int {
	return len(r.Overdue) + len(r.Nudge90) + len(r.Nudge80) + len(r.None)
}
