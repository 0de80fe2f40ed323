// Package scheduler gives the orchestrator's fixed-interval background loops
// a single, named-job scheduling primitive instead of each owner hand-rolling
// its own time.Ticker goroutine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

// Scheduler wraps a robfig/cron/v3 Cron, tagging entries by name so callers
// can reason about "the health tick" or "the pause sweep" instead of raw
// cron.EntryIDs.
type Scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	ids     map[string]cron.EntryID
	ctx     context.Context
	started bool
}

// New constructs an idle Scheduler. Call Start to begin running jobs added
// with AddFunc.
func New() *Scheduler {
	return &Scheduler{
		c:   cron.New(),
		ids: make(map[string]cron.EntryID),
		ctx: context.Background(),
	}
}

// EverySpec builds a robfig/cron "@every" schedule string for a fixed
// interval, e.g. EverySpec(30*time.Second) == "@every 30s".
func EverySpec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

// AddFunc schedules fn under spec, tagged name for later lookup. fn receives
// the context passed to the most recent Start call; a panic inside fn is
// recovered and logged rather than killing the cron goroutine. Adding a job
// under a name already in use replaces the earlier job.
func (s *Scheduler) AddFunc(name, spec string, fn func(ctx context.Context)) error {
	id, err := s.c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(map[string]interface{}{
					"job":   name,
					"panic": r,
				}).Error("scheduled job panicked")
			}
		}()
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.ids[name]; ok {
		s.c.Remove(old)
	}
	s.ids[name] = id
	s.mu.Unlock()
	return nil
}

// Remove cancels a previously scheduled job by name. A no-op if unknown.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	if !ok {
		return
	}
	s.c.Remove(id)
	delete(s.ids, name)
}

// Start begins running scheduled jobs in a background goroutine. Calling
// Start twice without an intervening Stop is a no-op, matching the idempotent
// Start semantics of the health monitor and pause manager that own a
// Scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.started = true
	s.mu.Unlock()

	s.c.Start()
}

// Stop halts the scheduler and waits up to 1s for any in-flight job to
// finish, matching the "cancellable within 1s" shutdown contract the rest of
// the orchestrator's background loops observe.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(time.Second):
	}
}
