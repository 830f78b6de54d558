package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "autoroll/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
	}{
		{in: "30s", kind: SpecInterval, every: 30 * time.Second},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "every: 1m", kind: SpecInterval, every: time.Minute},
		{in: "@every 1m", kind: SpecCron, cron: "@every 1m"},
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "cron: @hourly", kind: SpecCron, cron: "@hourly"},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, ps.Kind, tc.in)
		assert.Equal(t, tc.every, ps.Every, tc.in)
		assert.Equal(t, tc.cron, ps.Cron, tc.in)
	}

	for _, bad := range []string{"", "soon", "0s", "00:75", "interval:"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestIntervalJobRunsAndRemoves(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var runs atomic.Int32
	_, err := s.AddSchedule("tick", "cron: @every 1s", 0, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("counted as failure")
	})
	require.NoError(t, err)
	require.Len(t, s.Schedules(), 1)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	info := s.Schedules()[0]
	assert.Equal(t, "tick", info.Name)
	assert.GreaterOrEqual(t, info.Errors, uint64(1))

	assert.True(t, s.Remove("tick"))
	assert.False(t, s.Remove("tick"))
	assert.Empty(t, s.Schedules())
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(Config{}, logx.Nop())
	started := make(chan struct{})
	finished := make(chan error, 1)
	_, err := s.AddInterval("slow", time.Second, 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not canceled")
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	s := New(Config{}, logx.Nop())
	_, err := s.AddCron("", "@hourly", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
	_, err = s.AddCron("x", "not a spec", 0, func(context.Context) error { return nil })
	assert.Error(t, err)
	_, err = s.AddInterval("x", 0, 0, func(context.Context) error { return nil })
	assert.Error(t, err)
}
