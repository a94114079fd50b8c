// Package health aggregates dependency checks for the /health endpoint.
//
// Checks are either critical or optional. A failing critical check makes the
// service unhealthy (503); a failing optional one only degrades it, which is
// how a missing amplifier model is reported: decisions still flow on rules.
package health

import (
	"context"
	"sync"
	"time"
)

// State is the aggregate outcome of a health run.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Report is the result of CheckAll.
type Report struct {
	State  State
	Checks []Status
}

// Healthy reports whether the service can take traffic.
func (r Report) Healthy() bool { return r.State != StateUnhealthy }

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name     string
	critical bool
	check    Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a critical checker.
func (r *Registry) Register(name string, check Checker) {
	r.add(namedChecker{name: name, critical: true, check: check})
}

// RegisterOptional adds a checker whose failure only degrades the service.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(namedChecker{name: name, check: check})
}

func (r *Registry) add(nc namedChecker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, nc)
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and returns the results in
// registration order.
func (r *Registry) CheckAll(ctx context.Context) Report {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses := make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			st := nc.check(ctx)
			st.Name = nc.name
			st.Critical = nc.critical
			st.LatencyMs = time.Since(start).Milliseconds()
			statuses[i] = st
		}()
	}
	wg.Wait()

	state := StateHealthy
	for _, st := range statuses {
		if st.Healthy {
			continue
		}
		if st.Critical {
			state = StateUnhealthy
			break
		}
		state = StateDegraded
	}
	return Report{State: state, Checks: statuses}
}
