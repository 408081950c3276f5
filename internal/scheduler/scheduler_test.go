package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
	"github.com/joshsymonds/the-pantry-must-flow/internal/service"
	"github.com/joshsymonds/the-pantry-must-flow/internal/session"
)

type fakeSweeper struct {
	err   error
	res   session.SweepResult
	calls int
}

func (f *fakeSweeper) Sweep(context.Context, service.Messenger) (session.SweepResult, error) {
	f.calls++
	return f.res, f.err
}

type fakeTrigger struct {
	err    error
	update *model.LearningUpdate
}

func (f *fakeTrigger) Trigger(context.Context) (*model.LearningUpdate, error) {
	return f.update, f.err
}

func TestScheduler_Add(t *testing.T) {
	s := New(time.UTC)

	assert.NoError(t, s.Add("sweep", "@every 30m", func(context.Context) error { return nil }))
	assert.NoError(t, s.Add("nightly", "0 3 * * *", func(context.Context) error { return nil }))
	assert.ErrorContains(t, s.Add("broken", "every half hour", func(context.Context) error { return nil }), "invalid schedule")
	assert.Len(t, s.cron.Entries(), 2)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	s.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_RunCancelledOnStop(t *testing.T) {
	s := New(time.UTC)
	var jobErr error
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	s.run("late", func(ctx context.Context) error {
		jobErr = ctx.Err()
		return jobErr
	})
	assert.ErrorIs(t, jobErr, context.Canceled)
}

func TestSweepJob(t *testing.T) {
	sw := &fakeSweeper{res: session.SweepResult{Expired: 1, Reminded: 2}}
	require.NoError(t, SweepJob(sw, nil)(context.Background()))
	assert.Equal(t, 1, sw.calls)

	sw.err = errors.New("database is locked")
	assert.ErrorContains(t, SweepJob(sw, nil)(context.Background()), "locked")
}

func TestLearningJob(t *testing.T) {
	tests := []struct {
		name    string
		trigger *fakeTrigger
		wantErr bool
	}{
		{name: "update created", trigger: &fakeTrigger{update: &model.LearningUpdate{ID: 4, AverageAccuracy: 61.2}}},
		{name: "below threshold", trigger: &fakeTrigger{err: learning.ErrBelowThreshold}},
		{name: "storage failure", trigger: &fakeTrigger{err: errors.New("disk I/O error")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LearningJob(tt.trigger)(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
