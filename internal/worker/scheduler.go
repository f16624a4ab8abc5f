package worker

import (
	"context"
	"fmt"
	"time"

	"mccapes-reconciler/internal/core/ports"
	"mccapes-reconciler/pkg/logger"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Options sets the job cadence. A zero interval disables that job.
type Options struct {
	ReconcileInterval time.Duration
	ReconcileTimeout  time.Duration
	BatchSize         int
	ExpiryInterval    time.Duration
}

// Scheduler runs the reconcile and expire-orders jobs. Each job is a
// singleton: a run that is still going when the next tick fires pushes the
// tick back instead of overlapping.
type Scheduler struct {
	sched      gocron.Scheduler
	reconciler ports.ReconcilerService
	expiry     ports.ExpiryService
	opts       Options
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger
}

// NewScheduler registers the jobs without starting them.
func NewScheduler(reconciler ports.ReconcilerService, expiry ports.ExpiryService, opts Options, log zerolog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sched:      sched,
		reconciler: reconciler,
		expiry:     expiry,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.Component(log, "scheduler"),
	}

	if opts.ReconcileInterval > 0 && reconciler != nil {
		if err := s.add("reconcile", opts.ReconcileInterval, s.runReconcile); err != nil {
			cancel()
			return nil, err
		}
	}
	if opts.ExpiryInterval > 0 && expiry != nil {
		if err := s.add("expire-orders", opts.ExpiryInterval, s.runExpiry); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name string, every time.Duration, fn func()) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info().Str("job", name).Dur("every", every).Msg("Job scheduled")
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown cancels in-flight runs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}

func (s *Scheduler) runReconcile() {
	ctx := s.ctx
	if s.opts.ReconcileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ReconcileTimeout)
		defer cancel()
	}

	if _, err := s.reconciler.RunBatch(ctx, s.opts.BatchSize); err != nil {
		s.log.Warn().Err(err).Msg("Reconcile run ended early")
	}
}

func (s *Scheduler) runExpiry() {
	if _, err := s.expiry.ExpireStaleOrders(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("Expiry run failed")
	}
}
