package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// Config contains scheduler configuration.
type Config struct {
	// RunTimeout bounds a single run.
	RunTimeout time.Duration
	// RunOnStart fires every job once right after Start.
	RunOnStart bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		RunTimeout: 5 * time.Minute,
		RunOnStart: false,
	}
}

type entry struct {
	name     string
	interval time.Duration
	job      Job
	running  atomic.Bool
}

// Scheduler runs registered jobs on fixed intervals. A run still in progress
// when its next tick fires is skipped, not queued.
type Scheduler struct {
	mu      sync.Mutex
	entries []*entry
	config  *Config
	logger  *zap.Logger
	started bool

	// Lifecycle
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler.
func NewScheduler(logger *zap.Logger, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		config: config,
		logger: logger.Named("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Register adds a job. Jobs registered after Start are rejected.
func (s *Scheduler) Register(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", name)
	}
	s.entries = append(s.entries, &entry{name: name, interval: interval, job: job})
	s.logger.Debug("registered job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.entries)))
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
}

// Stop stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *entry
	for _, e := range s.entries {
		if e.name == name {
			target = e
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown job: %s", name)
	}
	return s.run(ctx, target)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		_ = s.run(ctx, e)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, e)
		}
	}
}

// run executes a job once, unless it is already running.
func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Warn("job still running, skipping tick", zap.String("job", e.name))
		return nil
	}
	defer e.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	start := time.Now()
	err := s.safeRun(runCtx, e)
	if err != nil {
		s.logger.Error("job failed",
			zap.String("job", e.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}

	s.logger.Debug("job completed",
		zap.String("job", e.name),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Scheduler) safeRun(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return e.job(ctx)
}
