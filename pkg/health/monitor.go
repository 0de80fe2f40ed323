// Package health implements the periodic orchestrator health poll: a
// background loop that probes every registered orchestrator on a fixed
// interval and keeps a summary of the last observed result.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/metrics"
	"github.com/shawkym/agentpipe-orchestrator/pkg/scheduler"
)

const tickJobName = "health_monitor_tick"

// Probe reports whether the named orchestrator is currently healthy. It
// should respect ctx's deadline and return promptly on cancellation.
type Probe func(ctx context.Context) (bool, error)

// Result is one orchestrator's outcome from the most recent tick.
type Result struct {
	Name           string
	Healthy        bool
	ResponseTimeMS float64
	CheckedAt      time.Time
	Err            error
}

// Summary aggregates the current Results across every registered probe.
type Summary struct {
	Total     int
	Healthy   int
	Unhealthy int
	LastCheck time.Time
	Results   map[string]Result
}

// Monitor runs probes on a fixed interval and exposes the last result per
// orchestrator. The tick loop is driven by a pkg/scheduler cron job rather
// than a private ticker goroutine, so Stop's shutdown contract comes from the
// scheduler.
type Monitor struct {
	interval     time.Duration
	probeTimeout time.Duration
	metrics      *metrics.Metrics

	mu      sync.RWMutex
	probes  map[string]Probe
	results map[string]Result

	sched *scheduler.Scheduler
}

// NewMonitor constructs a Monitor. interval falls back to 30s and
// probeTimeout to interval/2 when zero or negative. The tick runs as a cron
// "@every" job, which truncates the interval to whole seconds with a minimum
// of one second.
func NewMonitor(interval, probeTimeout time.Duration, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = interval / 2
	}
	return &Monitor{
		interval:     interval,
		probeTimeout: probeTimeout,
		metrics:      m,
		probes:       make(map[string]Probe),
		results:      make(map[string]Result),
		sched:        scheduler.New(),
	}
}

// Register adds or replaces the probe for a named orchestrator.
func (m *Monitor) Register(name string, p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = p
}

// Unregister removes a named orchestrator from future ticks.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, name)
	delete(m.results, name)
}

// Start launches the monitoring loop as a cron job on m.interval. Calling
// Start twice without an intervening Stop is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if err := m.sched.AddFunc(tickJobName, scheduler.EverySpec(m.interval), m.tick); err != nil {
		log.WithError(err).Error("failed to schedule health monitor tick")
		return
	}
	m.sched.Start(ctx)
	log.WithField("interval", m.interval).Info("health monitor started")
}

// Stop signals the loop to exit and waits for the current tick to finish,
// or for 1s, whichever comes first — matching the "cancellable within 1s"
// requirement for in-flight probes.
func (m *Monitor) Stop() {
	m.sched.Stop()
	m.sched.Remove(tickJobName)
	log.Info("health monitor stopped")
}

func (m *Monitor) tick(ctx context.Context) {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	m.mu.RUnlock()

	for name, probe := range probes {
		result := m.checkOne(ctx, name, probe)

		m.mu.Lock()
		m.results[name] = result
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.SetOrchestratorHealth(name, result.Healthy)
		}
	}

	summary := m.Summary()
	log.WithFields(map[string]interface{}{
		"healthy": summary.Healthy,
		"total":   summary.Total,
	}).Info("health check completed")
}

func (m *Monitor) checkOne(ctx context.Context, name string, probe Probe) Result {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	healthy, err := probe(probeCtx)
	elapsed := time.Since(start)

	if err != nil {
		log.WithField("orchestrator", name).WithError(err).Error("health check failed")
		return Result{
			Name:           name,
			Healthy:        false,
			ResponseTimeMS: 0,
			CheckedAt:      time.Now(),
			Err:            err,
		}
	}

	return Result{
		Name:           name,
		Healthy:        healthy,
		ResponseTimeMS: float64(elapsed.Microseconds()) / 1000.0,
		CheckedAt:      time.Now(),
	}
}

// Summary returns the current aggregate health across all registered probes.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{Results: make(map[string]Result, len(m.results))}
	for name, r := range m.results {
		s.Results[name] = r
		s.Total++
		if r.Healthy {
			s.Healthy++
		} else {
			s.Unhealthy++
		}
		if r.CheckedAt.After(s.LastCheck) {
			s.LastCheck = r.CheckedAt
		}
	}
	return s
}

// IsHealthy reports the last observed health of a single orchestrator.
// Unknown names report unhealthy.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[name]
	return ok && r.Healthy
}
