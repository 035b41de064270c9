// Package heartbeat runs the periodic tick that gives skills a chance to
// propose spontaneous actions without an inbound request.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/valeworks/valet/internal/config"
	"github.com/valeworks/valet/internal/skill"
)

// TickFunc aggregates heartbeat actions for the given users. Both the
// in-process registry and the RPC client fit this shape, so the same
// scheduler drives local and remote skill hosts.
type TickFunc func(ctx context.Context, userIDs []string) ([]skill.HeartbeatAction, error)

// ActionSink receives each aggregated action, most urgent first. Execution
// policy (trust gating, retries) belongs to the sink's owner.
type ActionSink func(ctx context.Context, action skill.HeartbeatAction)

type Scheduler struct {
	schedule cron.Schedule
	tick     TickFunc
	sink     ActionSink
	userIDs  []string

	tickTimeout time.Duration

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(cfg config.HeartbeatConfig, tick TickFunc, sink ActionSink) (*Scheduler, error) {
	if tick == nil {
		return nil, fmt.Errorf("tick function cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("action sink cannot be nil")
	}

	spec := cfg.Schedule
	if spec == "" {
		spec = config.DefaultHeartbeatSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid heartbeat schedule %q: %w", spec, err)
	}

	tickTimeout, err := config.DurationOrDefault(cfg.TickTimeout, config.DefaultHeartbeatTickTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse heartbeat tick timeout: %w", err)
	}

	return &Scheduler{
		schedule:    schedule,
		tick:        tick,
		sink:        sink,
		userIDs:     cfg.UserIDs,
		tickTimeout: tickTimeout,
	}, nil
}

func (s *Scheduler) Init(ctx context.Context) error {
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.quit = make(chan struct{})

	s.wg.Add(1)
	go s.run(ctx)

	slog.Info("Heartbeat scheduler started", "users", len(s.userIDs))
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.quit:
			timer.Stop()
			return
		case <-timer.C:
			s.TickOnce(ctx)
		}
	}
}

// TickOnce runs a single heartbeat cycle: aggregate actions from the skill
// host and hand each to the sink. A failing tick is logged and skipped;
// the next cycle runs regardless.
func (s *Scheduler) TickOnce(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.tickTimeout)
	defer cancel()

	start := time.Now()
	actions, err := s.tick(tickCtx, s.userIDs)
	if err != nil {
		slog.Warn("Heartbeat tick failed", "error", err)
		return
	}

	for _, action := range actions {
		s.sink(tickCtx, action)
	}

	slog.Debug("Heartbeat tick completed",
		"actions", len(actions), "duration", time.Since(start))
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.quit)
	s.running = false

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Heartbeat scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("heartbeat scheduler not running")
	}
	return nil
}
