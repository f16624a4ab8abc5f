package worker

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestScheduler_RunsJobsImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reconciler := mocks.NewMockReconcilerService(ctrl)
	expiry := mocks.NewMockExpiryService(ctrl)

	var batches, expiries atomic.Int32
	reconciler.EXPECT().RunBatch(gomock.Any(), 24).DoAndReturn(
		func(ctx context.Context, _ int) (*domain.ReconcileReport, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			batches.Add(1)
			return domain.NewReconcileReport(), nil
		},
	).MinTimes(1)
	expiry.EXPECT().ExpireStaleOrders(gomock.Any()).DoAndReturn(
		func(context.Context) (int, error) {
			expiries.Add(1)
			return 0, nil
		},
	).MinTimes(1)

	s, err := NewScheduler(reconciler, expiry, Options{
		ReconcileInterval: time.Hour,
		ReconcileTimeout:  time.Minute,
		BatchSize:         24,
		ExpiryInterval:    time.Hour,
	}, zerolog.New(io.Discard))
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool {
		return batches.Load() >= 1 && expiries.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Shutdown())
}

func TestScheduler_ShutdownCancelsRunningBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reconciler := mocks.NewMockReconcilerService(ctrl)
	started := make(chan struct{})
	var cancelled atomic.Bool
	reconciler.EXPECT().RunBatch(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ int) (*domain.ReconcileReport, error) {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return domain.NewReconcileReport(), ctx.Err()
		},
	)

	s, err := NewScheduler(reconciler, nil, Options{ReconcileInterval: time.Hour}, zerolog.New(io.Discard))
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile job did not start")
	}

	require.NoError(t, s.Shutdown())
	assert.True(t, cancelled.Load())
}

func TestScheduler_DisabledJobs(t *testing.T) {
	s, err := NewScheduler(nil, nil, Options{}, zerolog.New(io.Discard))
	require.NoError(t, err)
	assert.Empty(t, s.sched.Jobs())

	s.Start()
	require.NoError(t, s.Shutdown())
}
