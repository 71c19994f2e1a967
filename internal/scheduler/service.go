package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pulsebot/internal/behavior"
	"pulsebot/internal/eventbus"
	"pulsebot/pkg/logx"
)

const defaultSpec = "0 0,12 * * *"

// Deps are the collaborators one cycle orchestrates.
type Deps struct {
	Directory behavior.Directory
	Contexts  ContextSource
	Oracle    Oracle
	Gate      Gate
	Sink      Sink
	Bus       eventbus.Bus
}

// Service drives the notification pipeline on a fixed cadence. Exactly
// one cycle may be active at a time; the idle/running transition is a
// single compare-and-swap so racing triggers cannot overlap.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	deps Deps

	loc   *time.Location
	c     *cron.Cron
	entry cron.EntryID

	running atomic.Bool
	cycleWG sync.WaitGroup

	runCtx    context.Context
	runCancel context.CancelFunc

	lastMu sync.Mutex
	last   *CycleReport

	now func() time.Time
}

type Option func(*Service)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, deps Deps, log logx.Logger, opts ...Option) *Service {
	if cfg.Spec == "" {
		cfg.Spec = defaultSpec
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	s := &Service{
		cfg:  cfg,
		deps: deps,
		log:  log,
		loc:  time.Local,
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start registers the periodic trigger. It is a no-op when the
// scheduler is disabled by config.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled by config")
		return nil
	}
	if s.c != nil {
		return nil
	}

	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler: invalid timezone %q: %w", tz, err)
		}
		s.loc = loc
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)

	c := cron.New(cron.WithLocation(s.loc))
	id, err := c.AddFunc(s.cfg.Spec, func() {
		if _, err := s.runCycle(s.runCtx); err != nil && err != ErrCycleActive {
			s.log.Error("scheduled cycle failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid spec %q: %w", s.cfg.Spec, err)
	}
	s.c = c
	s.entry = id
	c.Start()

	s.log.Info("scheduler started",
		logx.String("spec", s.cfg.Spec),
		logx.String("tz", s.loc.String()),
		logx.Int("workers", s.cfg.Workers))

	if s.cfg.RunOnStart {
		runCtx := s.runCtx
		go func() {
			if _, err := s.runCycle(runCtx); err != nil && err != ErrCycleActive {
				s.log.Error("startup cycle failed", logx.Err(err))
			}
		}()
	}
	return nil
}

// Stop halts the trigger and waits for an in-flight cycle to drain.
// When ctx expires first, the cycle is aborted via context cancel; the
// running flag always resets because runCycle clears it on every exit
// path.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.cycleWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}

// TriggerNow runs one cycle immediately, bypassing the wall-clock
// trigger but still respecting the single-cycle guard.
func (s *Service) TriggerNow(ctx context.Context) (*CycleReport, error) {
	return s.runCycle(ctx)
}

// Running reports whether a cycle is active.
func (s *Service) Running() bool { return s.running.Load() }

// Status returns a point-in-time snapshot for operator surfaces.
func (s *Service) Status() Snapshot {
	snap := Snapshot{Running: s.running.Load()}

	s.mu.Lock()
	if s.c != nil {
		snap.NextRun = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	s.lastMu.Lock()
	snap.LastReport = s.last
	s.lastMu.Unlock()
	return snap
}

// Apply updates the worker bound at runtime. Changing the cron spec or
// timezone requires a restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Workers > 0 {
		s.cfg.Workers = cfg.Workers
	}
}

func (s *Service) workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Workers
}

func (s *Service) setLast(rep *CycleReport) {
	s.lastMu.Lock()
	s.last = rep
	s.lastMu.Unlock()
}
