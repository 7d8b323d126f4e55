package cart

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFlusher_CoalescesBursts(t *testing.T) {
	var runs atomic.Int32
	f := NewFlusher(30*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zaptest.NewLogger(t))
	defer f.Stop()

	for range 10 {
		f.ScheduleFlush()
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestFlusher_FlushNowCancelsTimer(t *testing.T) {
	var runs atomic.Int32
	f := NewFlusher(20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zaptest.NewLogger(t))
	defer f.Stop()

	f.ScheduleFlush()
	require.NoError(t, f.FlushNow(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestFlusher_RetriesFailedFlush(t *testing.T) {
	var runs atomic.Int32
	f := NewFlusher(10*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("unavailable")
		}
		return nil
	}, zaptest.NewLogger(t))
	defer f.Stop()

	require.Error(t, f.FlushNow(context.Background()))
	assert.True(t, f.Pending())

	require.Eventually(t, func() bool { return runs.Load() == 2 && !f.Pending() }, time.Second, 5*time.Millisecond)
}

func TestFlusher_StopDropsSchedule(t *testing.T) {
	var runs atomic.Int32
	f := NewFlusher(10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}, zaptest.NewLogger(t))

	f.ScheduleFlush()
	f.Stop()
	f.ScheduleFlush()
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, runs.Load())
}
