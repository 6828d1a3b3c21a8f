package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/feedsync/feedsync/internal/data"
)

func TestBudget_Exceeded(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := data.NewFixedTimeProvider(start)
	budget := StartBudget(4*time.Minute, clock)

	assert.Equal(t, start, budget.StartedAt())
	assert.False(t, budget.Exceeded())
	assert.Equal(t, 4*time.Minute, budget.Remaining())

	clock.AddTime(3 * time.Minute)
	assert.False(t, budget.Exceeded())
	assert.Equal(t, 3*time.Minute, budget.Elapsed())
	assert.Equal(t, time.Minute, budget.Remaining())

	clock.AddTime(time.Minute)
	assert.True(t, budget.Exceeded())

	clock.AddTime(time.Minute)
	assert.True(t, budget.Exceeded())
	assert.Equal(t, -time.Minute, budget.Remaining())
}

func TestBudget_ZeroDeadlineNeverExceeds(t *testing.T) {
	clock := data.NewFixedTimeProvider(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	budget := StartBudget(0, clock)

	clock.AddTime(24 * time.Hour)
	assert.False(t, budget.Exceeded())
}

func TestBudget_NilClockUsesRealTime(t *testing.T) {
	budget := StartBudget(time.Hour, nil)
	assert.False(t, budget.Exceeded())
	assert.False(t, budget.StartedAt().IsZero())
}
