package enrollment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		completed, total int
		want             float64
	}{
		{0, 5, 0},
		{1, 5, 20},
		{5, 5, 100},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 0, 0},
		{6, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percentage(tt.completed, tt.total), "%d/%d", tt.completed, tt.total)
	}
}

func TestPercentage_Monotonic(t *testing.T) {
	prev := -1.0
	for done := 0; done <= 7; done++ {
		p := Percentage(done, 7)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
}

func TestRecompute_CompletesOnce(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	e := New("enr-1", "user-1", "course-1", day1)

	assert.False(t, e.Recompute(4, 5, day1))
	assert.Equal(t, 80.0, e.ProgressPercentage)
	assert.False(t, e.IsCompleted)
	assert.Nil(t, e.CompletedAt)

	assert.True(t, e.Recompute(5, 5, day1))
	require.NotNil(t, e.CompletedAt)
	assert.Equal(t, day1, *e.CompletedAt)

	// Recomputing an unchanged set is idempotent and never re-completes.
	assert.False(t, e.Recompute(5, 5, day2))
	assert.Equal(t, 100.0, e.ProgressPercentage)
	assert.Equal(t, day1, *e.CompletedAt)

	// A lesson added to the course lowers progress but keeps completion.
	assert.False(t, e.Recompute(5, 6, day2))
	assert.Equal(t, 83.33, e.ProgressPercentage)
	assert.True(t, e.IsCompleted)
	assert.Equal(t, day1, *e.CompletedAt)
}

func TestRecompute_CompletionUsesCounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name          string
		completed     int
		total         int
		wantPct       float64
		wantCompleted bool
	}{
		{"one lesson left rounds below 100", 19999, 20000, 99.99, false},
		{"one of three", 1, 3, 33.33, false},
		{"two of three", 2, 3, 66.67, false},
		{"all lessons", 20000, 20000, 100, true},
		{"more completed than current total", 7, 6, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("enr-1", "user-1", "course-1", now)
			assert.Equal(t, tt.wantCompleted, e.Recompute(tt.completed, tt.total, now))
			assert.Equal(t, tt.wantPct, e.ProgressPercentage)
			assert.Equal(t, tt.wantCompleted, e.IsCompleted)
			assert.Equal(t, tt.wantCompleted, e.CompletedAt != nil)
		})
	}
}

func TestRecompute_EmptyCourse(t *testing.T) {
	e := New("enr-1", "user-1", "course-1", time.Now())
	assert.False(t, e.Recompute(0, 0, time.Now()))
	assert.Zero(t, e.ProgressPercentage)
}

func TestLessonProgress(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	p := NewLessonProgress("enr-1", "lesson-1", start)

	p.Touch(30, start.Add(time.Minute))
	p.Touch(-5, start.Add(2*time.Minute))
	assert.Equal(t, 30, p.WatchTimeSeconds)

	assert.True(t, p.MarkComplete(start.Add(3*time.Minute)))
	assert.False(t, p.MarkComplete(start.Add(time.Hour)))
	assert.Equal(t, start.Add(3*time.Minute), *p.CompletedAt)
}
