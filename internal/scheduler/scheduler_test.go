package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leapgeo/citetrack/internal/db"
)

func TestNew_RegistersDefaultJobs(t *testing.T) {
	runner := NewRunner(&fakeStore{}, &fakeScanner{}, zaptest.NewLogger(t))
	s, err := New(runner, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	next := s.Next()
	require.Len(t, next, 3)
	for _, at := range next {
		assert.True(t, at.After(time.Now()))
		assert.Equal(t, 0, at.Minute())
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	runner := NewRunner(&fakeStore{}, &fakeScanner{}, zaptest.NewLogger(t))

	cfg := DefaultConfig()
	cfg.WeeklySpec = "every monday"
	_, err := New(runner, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err = New(runner, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNew_EmptySpecDisablesJob(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RatesSpec = ""
	s, err := New(NewRunner(&fakeStore{}, &fakeScanner{}, zaptest.NewLogger(t)), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, s.Next(), 2)
}

func TestFireRecordsLastReport(t *testing.T) {
	store := &fakeStore{
		projects: []string{"sweetnight"},
		prompts:  map[string][]db.Prompt{"sweetnight": {{Text: "best cooling mattress"}}},
	}
	runner := NewRunner(store, &fakeScanner{}, zaptest.NewLogger(t), WithPolicy(fast))
	s, err := New(runner, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, ok := runner.LastReport(JobDaily)
	assert.False(t, ok)

	s.fire(JobDaily)
	report, ok := runner.LastReport(JobDaily)
	require.True(t, ok)
	assert.Equal(t, 1, report.TotalPrompts)
	assert.Equal(t, "success", report.Status())
	assert.False(t, report.FinishedAt.IsZero())

	_, ok = runner.LastReport(JobWeekly)
	assert.False(t, ok)
}

func TestStartStop(t *testing.T) {
	s, err := New(NewRunner(&fakeStore{}, &fakeScanner{}, zaptest.NewLogger(t)), DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, s.ctx.Err())
}

func TestConfigPolicy(t *testing.T) {
	assert.Equal(t, DefaultPolicy, Config{}.Policy())
	assert.Equal(t, Policy{MaxAttempts: 5, Delay: time.Second}, Config{RetryAttempts: 5, RetryDelay: time.Second}.Policy())
}
