// Package session drives one monitoring session: it pulls updates from a
// feed, applies them to the state and periodically evicts completed
// entities.
//
// The state is only touched by whichever loop owns the session, either Run
// or the dashboard's update function. Pump's goroutine only reads the feed.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/lookout/internal/feed"
	"github.com/fentz26/lookout/internal/state"
	"github.com/fentz26/lookout/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one result read from the feed.
type Event struct {
	Update *wire.Update
	Err    error
}

// Stats counts session activity.
type Stats struct {
	Updates   uint64
	Malformed uint64
	Sweeps    uint64
}

// Session owns the state of one monitored program.
type Session struct {
	id     string
	state  *state.State
	source feed.Source
	config *Config
	logger *zap.Logger
	clock  func() time.Time

	updates   uint64
	sweeps    uint64
	malformed atomic.Uint64

	// warned holds the lint names already reported for each task.
	warned map[state.Id[state.Task]][]string

	wg sync.WaitGroup
}

// New creates a session reading from src. A fresh uuid identifies the
// session in logs.
func New(st *state.State, src feed.Source, cfg *Config, logger *zap.Logger) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Session{
		id:     id,
		state:  st,
		source: src,
		config: cfg,
		logger: logger.With(zap.String("session", id)),
		clock:  time.Now,
		warned: make(map[state.Id[state.Task]][]string),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the session's state. It must only be used from the loop
// that owns the session.
func (s *Session) State() *state.State { return s.state }

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.config }

// Stats returns activity counters.
func (s *Session) Stats() Stats {
	return Stats{
		Updates:   s.updates,
		Malformed: s.malformed.Load(),
		Sweeps:    s.sweeps,
	}
}

// Now returns when the state was last updated, falling back to the local
// clock before the first update.
func (s *Session) Now() time.Time {
	if t, ok := s.state.LastUpdatedAt(); ok {
		return t
	}
	return s.clock()
}

// Pump starts reading the feed. Malformed updates are logged and skipped;
// the channel closes after the first other error or when ctx ends.
func (s *Session) Pump(ctx context.Context) <-chan Event {
	events := make(chan Event)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(events)
		for {
			update, err := s.source.Next(ctx)
			if errors.Is(err, feed.ErrMalformedUpdate) {
				s.malformed.Add(1)
				s.logger.Warn("skipping malformed update", zap.Error(err))
				continue
			}
			select {
			case events <- Event{Update: update, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return events
}

// Run applies updates and sweeps until ctx ends or the feed fails. A feed
// that closes normally ends the session without error.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
		s.logger.Info("session stopped", zap.Uint64("updates", s.updates))
	}()

	events := s.Pump(ctx)
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.logger.Info("session started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Handle(ev); err != nil {
				return err
			}
		case <-ticker.C:
			s.Sweep(s.Now())
		}
	}
}

// Handle applies one feed event. It returns an error when the feed failed,
// and nil when the feed closed normally.
func (s *Session) Handle(ev Event) error {
	switch {
	case ev.Err == nil:
		s.Apply(s.clock(), ev.Update)
		return nil
	case errors.Is(ev.Err, feed.ErrClosed):
		s.logger.Info("feed closed")
		return nil
	case errors.Is(ev.Err, context.Canceled):
		return nil
	default:
		return fmt.Errorf("reading feed: %w", ev.Err)
	}
}

// Apply applies one update as of now and reports tasks that picked up new
// warnings.
func (s *Session) Apply(now time.Time, update *wire.Update) {
	now = s.state.Update(now, update, s.config.Visibility)
	s.updates++
	s.reportWarnings(now)
}

// Sweep evicts entities that completed more than RetainFor before now.
func (s *Session) Sweep(now time.Time) {
	s.state.RetainActive(now, s.config.RetainFor)
	s.sweeps++
	for id := range s.warned {
		if _, ok := s.state.Tasks().Get(id); !ok {
			delete(s.warned, id)
		}
	}
}

func (s *Session) reportWarnings(now time.Time) {
	for ref := range s.state.Tasks().Refs() {
		task, ok := ref.Get()
		if !ok {
			continue
		}
		prev := s.warned[task.ID()]
		held := task.Warnings()
		names := make([]string, 0, len(held))
		for _, l := range held {
			names = append(names, l.Name())
			if slices.Contains(prev, l.Name()) {
				continue
			}
			s.logger.Warn("task warning",
				zap.Stringer("task", task.ID()),
				zap.String("name", task.Name()),
				zap.String("lint", l.Name()),
				zap.String("detail", l.Format(task, now)),
			)
		}
		for _, name := range prev {
			if !slices.Contains(names, name) {
				s.logger.Info("task warning cleared",
					zap.Stringer("task", task.ID()),
					zap.String("name", task.Name()),
					zap.String("lint", name),
				)
			}
		}
		if len(names) == 0 {
			delete(s.warned, task.ID())
			continue
		}
		s.warned[task.ID()] = names
	}
}
