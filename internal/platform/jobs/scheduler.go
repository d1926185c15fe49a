package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron specs. A task never overlaps with itself; a tick that
// arrives while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	names  map[string]cron.EntryID
}

// SchedulerOption customises the Scheduler.
type SchedulerOption func(*Scheduler)

// WithTaskTimeout bounds each task run.
func WithTaskTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLocation evaluates specs in loc instead of UTC.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		if loc != nil {
			s.cron = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))
		}
	}
}

// NewScheduler constructs a stopped scheduler.
func NewScheduler(logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithParser(cronParser)),
		logger:  logger,
		timeout: 10 * time.Minute,
		ctx:     ctx,
		cancel:  cancel,
		names:   make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register adds task under name. Names are unique.
func (s *Scheduler) Register(name, spec string, task Task) error {
	name = strings.TrimSpace(name)
	if name == "" || task == nil {
		return errors.New("scheduler: name and task are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("scheduler: task %s already registered", name)
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.run(name, task)
	}))
	id, err := s.cron.AddJob(strings.TrimSpace(spec), job)
	if err != nil {
		return fmt.Errorf("scheduler: task %s: invalid spec %q: %w", name, spec, err)
	}
	s.names[name] = id
	return nil
}

// RunNow executes the named task synchronously, outside the schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.names[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %s", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	started := time.Now()
	logger := s.logger.With(zap.String("task", name))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("scheduled task panicked", zap.Any("panic", rec))
		}
	}()

	if err := task(ctx); err != nil {
		logger.Error("scheduled task failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return
	}
	logger.Info("scheduled task completed", zap.Duration("elapsed", time.Since(started)))
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
