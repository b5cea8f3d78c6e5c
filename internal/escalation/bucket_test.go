package escalation

import (
	"testing"
	"time"

	"github.com/hubflo/hubflo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(ratio float64, span time.Duration) time.Time {
	return base.Add(time.Duration(ratio * float64(span)))
}

func TestBucketize(t *testing.T) {
	span := 100 * time.Hour
	due := base.Add(span)

	tests := []struct {
		name  string
		ratio float64
		want  Bucket
	}{
		{"before start", -0.1, BucketNone},
		{"half way", 0.5, BucketNone},
		{"just under 80", 0.79, BucketNone},
		{"at 80", 0.8, BucketNudge80},
		{"85", 0.85, BucketNudge80},
		{"at 90", 0.9, BucketNudge90},
		{"99", 0.99, BucketNudge90},
		{"at due", 1.0, BucketOverdue},
		{"120", 1.2, BucketOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Bucketize(base, due, at(tt.ratio, span)))
		})
	}
}

func TestBucketize_EmptyWindowIsOverdue(t *testing.T) {
	assert.Equal(t, BucketOverdue, Bucketize(base, base, base.Add(-time.Hour)))
	assert.Equal(t, BucketOverdue, Bucketize(base, base.Add(-time.Hour), base.Add(-2*time.Hour)))
	assert.Equal(t, 1.0, Ratio(base, base, base))
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 0.85, Ratio(base, base.Add(100*time.Hour), base.Add(85*time.Hour)), 1e-9)
}

func TestNextCrossing(t *testing.T) {
	span := 10 * time.Hour
	due := base.Add(span)

	next, ok := NextCrossing(base, due, base)
	require.True(t, ok)
	assert.Equal(t, base.Add(8*time.Hour), next)

	next, ok = NextCrossing(base, due, base.Add(8*time.Hour))
	require.True(t, ok)
	assert.Equal(t, base.Add(9*time.Hour), next)

	next, ok = NextCrossing(base, due, base.Add(9*time.Hour+30*time.Minute))
	require.True(t, ok)
	assert.Equal(t, due, next)

	_, ok = NextCrossing(base, due, due)
	assert.False(t, ok)

	_, ok = NextCrossing(base, base, base.Add(-time.Hour))
	assert.False(t, ok)
}

func TestNextCrossing_LandsInsideBucket(t *testing.T) {
	// spans that do not divide evenly by ten
	for _, span := range []time.Duration{333 * time.Millisecond, 11*time.Hour + 7*time.Nanosecond} {
		due := base.Add(span)
		now := base
		var seen []Bucket
		for {
			next, ok := NextCrossing(base, due, now)
			if !ok {
				break
			}
			bucket := Bucketize(base, due, next)
			seen = append(seen, bucket)
			assert.NotEqual(t, bucket, Bucketize(base, due, next.Add(-1)), "span %s", span)
			now = next
		}
		assert.Equal(t, []Bucket{BucketNudge80, BucketNudge90, BucketOverdue}, seen, "span %s", span)
	}
}

func TestBucketize_LongWindows(t *testing.T) {
	year := 365 * 24 * time.Hour
	for _, span := range []time.Duration{30 * year, 100 * year, 250 * year} {
		due := base.Add(span)

		assert.Equal(t, BucketNone, Bucketize(base, due, base.Add(span/2)), "span %s", span)
		assert.Equal(t, BucketNudge80, Bucketize(base, due, base.Add(span/100*85)), "span %s", span)
		assert.Equal(t, BucketNudge90, Bucketize(base, due, base.Add(span/100*95)), "span %s", span)
		assert.Equal(t, BucketOverdue, Bucketize(base, due, due), "span %s", span)

		next, ok := NextCrossing(base, due, base)
		require.True(t, ok)
		assert.Equal(t, base.Add(span/10*8), next, "span %s", span)
		assert.Equal(t, BucketNudge80, Bucketize(base, due, next))
	}
}

func TestClassify_EveryTaskInExactlyOneBucket(t *testing.T) {
	span := 100 * time.Hour
	now := base.Add(span)

	tasks := []models.Task{
		{ID: 1, CreatedAt: base, DueDate: ptr(base.Add(span * 100 / 85))}, // ratio 0.85
		{ID: 2, CreatedAt: base, DueDate: ptr(base.Add(span * 10 / 12))},  // ratio 1.2
		{ID: 3, CreatedAt: base, DueDate: ptr(base.Add(span * 2))},
		{ID: 4, CreatedAt: base},
	}

	report := Classify(tasks, now)

	require.Len(t, report.Nudge80, 1)
	assert.Equal(t, uint64(1), report.Nudge80[0].ID)
	require.Len(t, report.Overdue, 1)
	assert.Equal(t, uint64(2), report.Overdue[0].ID)
	assert.Empty(t, report.Nudge90)
	require.Len(t, report.None, 2)
	assert.Equal(t, len(tasks), report.Len())
}

func ptr(t time.Time) *time.Time {
	return &t
}
