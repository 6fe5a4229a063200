// Package service runs the supervising loop around one conversation routine.
// The service owns the routine exclusively, enforces the global time window,
// and guarantees teardown of the chat and backend resources when the loop
// exits for any reason.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parlaybot/parlay/internal/brain"
	"github.com/parlaybot/parlay/internal/chat"
	"github.com/parlaybot/parlay/internal/fault"
	"github.com/parlaybot/parlay/internal/models"
	"github.com/parlaybot/parlay/internal/profanity"
	"github.com/parlaybot/parlay/internal/routine"
)

// tickInterval is the fixed delay between two iterations of the loop.
const tickInterval = 200 * time.Millisecond

// ProblemStore persists escalated problems. Satisfied by store.Store.
type ProblemStore interface {
	CreateProblem(ctx context.Context, p *models.Problem) error
}

// Config holds the settings the service consumes.
type Config struct {
	Routine routine.Config
	// TimeWindow is how long the service may run before shutting itself
	// down. Zero disables the deadline.
	TimeWindow time.Duration
}

// Service supervises one conversation routine. Create it with New, drive it
// with Run, and request a cooperative stop with Stop. If the loop exits
// abnormally the parent shutdown callback is invoked after teardown.
type Service struct {
	cfg      Config
	chat     chat.Client
	brain    brain.Client
	filter   profanity.Filter
	store    ProblemStore     // optional
	recorder routine.Recorder // optional
	logger   *slog.Logger

	// parentShutdown asks the owning application to shut down entirely.
	parentShutdown func()

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}

	mu        sync.Mutex
	problem   error
	problemAt time.Time
}

// New creates a service. The recorder and problem store may be nil.
func New(cfg Config, chatClient chat.Client, brainClient brain.Client, filter profanity.Filter, recorder routine.Recorder, problems ProblemStore, logger *slog.Logger, parentShutdown func()) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if parentShutdown == nil {
		parentShutdown = func() {}
	}
	return &Service{
		cfg:            cfg,
		chat:           chatClient,
		brain:          brainClient,
		filter:         filter,
		recorder:       recorder,
		store:          problems,
		logger:         logger,
		parentShutdown: parentShutdown,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// Stop requests the service to leave its loop at the top of the next tick.
// It never preempts an in-flight port call. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// SetProblem records a fault the routine could not resolve. The last write
// wins; the service notices the problem on its next tick and terminates.
func (s *Service) SetProblem(err error) {
	s.mu.Lock()
	s.problem = err
	s.problemAt = s.now()
	s.mu.Unlock()

	s.logger.Error("problem registered", "kind", fault.KindOf(err), "err", err)

	if s.store != nil {
		p := &models.Problem{
			Kind:    string(fault.KindOf(err)),
			Message: err.Error(),
		}
		if storeErr := s.store.CreateProblem(context.Background(), p); storeErr != nil {
			s.logger.Warn("record problem", "err", storeErr)
		}
	}
}

// Problem returns the last unresolved problem, or nil if there is none.
func (s *Service) Problem() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.problem
}

// ProblemTimestamp returns when the last problem was registered.
func (s *Service) ProblemTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.problemAt
}

func (s *Service) hasProblem() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.problem != nil
}

func (s *Service) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run enters the service loop and blocks until it exits. Teardown always
// happens before Run returns. A non-nil error means the exit was abnormal;
// in that case the parent shutdown callback has been invoked.
func (s *Service) Run(ctx context.Context) (err error) {
	var r *routine.Routine
	terminateParent := false

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("service panicked: %v", p)
			s.logger.Error("service panicked, shutting down", "panic", p)
			terminateParent = true
		}
		s.teardown(r)
		if terminateParent {
			s.parentShutdown()
		}
	}()

	r, rErr := routine.New(s.cfg.Routine, s.chat, s.brain, s.filter, s, s.recorder, s.logger)
	if rErr != nil {
		// Fatal construction fault, never enter the loop.
		s.logger.Error("error while starting service, not entering", "err", rErr)
		terminateParent = true
		return rErr
	}

	var deadline time.Time
	if s.cfg.TimeWindow > 0 {
		deadline = s.now().Add(s.cfg.TimeWindow)
	}

	s.logger.Info("service started", "bot", s.cfg.Routine.BotName, "channel", s.cfg.Routine.Channel, "time_window", s.cfg.TimeWindow)

	for {
		switch {
		case s.stopRequested():
			s.logger.Info("stop requested, shutting down")
			return nil
		case ctx.Err() != nil:
			s.logger.Info("context cancelled, shutting down")
			return nil
		case s.hasProblem():
			terminateParent = true
			return fmt.Errorf("unresolved problem: %w", s.Problem())
		case !deadline.IsZero() && !s.now().Before(deadline):
			s.logger.Info("time window exceeded, shutting down")
			terminateParent = true
			return fmt.Errorf("time window exceeded")
		}

		r.Update(ctx)

		time.Sleep(tickInterval)
	}
}

// teardown resets the routine and releases the chat session. Failures are
// logged, never re-raised, so a partial failure cannot block releasing the
// remaining resources.
func (s *Service) teardown(r *routine.Routine) {
	s.logger.Info("shutting down service")

	if r != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("error while resetting routine", "panic", p)
				}
			}()
			r.Reset()
		}()
	}

	if s.chat != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.chat.Close(closeCtx); err != nil {
			s.logger.Error("error while closing game session", "err", err)
		}
	}
}
