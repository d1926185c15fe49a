package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSchedulerRegisterValidates(t *testing.T) {
	s := NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register("purge", "@daily", noop))
	assert.Error(t, s.Register("purge", "@hourly", noop), "duplicate name")
	assert.Error(t, s.Register("bad", "not a spec", noop))
	assert.Error(t, s.Register("", "@daily", noop))
	assert.Error(t, s.Register("nil", "@daily", nil))
}

func TestSchedulerRunNowLogsOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewScheduler(zap.New(core), WithTaskTimeout(time.Second))

	var calls atomic.Int32
	require.NoError(t, s.Register("cleanup", "@every 1h", func(ctx context.Context) error {
		calls.Add(1)
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("missing deadline")
		}
		return nil
	}))
	require.NoError(t, s.Register("broken", "@every 1h", func(context.Context) error {
		return errors.New("boom")
	}))

	require.NoError(t, s.RunNow("cleanup"))
	require.NoError(t, s.RunNow("broken"))
	assert.Error(t, s.RunNow("missing"))

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("scheduled task completed").Len())
	assert.Equal(t, 1, logs.FilterMessage("scheduled task failed").Len())
}

func TestSchedulerStopCancelsTasks(t *testing.T) {
	s := NewScheduler(nil)
	started := make(chan struct{})
	require.NoError(t, s.Register("slow", "@every 1h", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	s.Start()

	go func() { _ = s.RunNow("slow") }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
