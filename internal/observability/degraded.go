// Package observability tracks component health, degraded-mode status, and
// pipeline metrics. Everything here is a process-wide singleton with
// internal synchronization; no durable state.
package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Well-known component names.
const (
	ComponentGEX        = "GEX"
	ComponentContext    = "CONTEXT"
	ComponentDatabase   = "DATABASE"
	ComponentMarketData = "MARKETDATA"
)

// ComponentStatus is one component's health record.
type ComponentStatus struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastChange  time.Time `json:"last_change"`
	FailCount   int64     `json:"fail_count"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// DegradedModeTracker records healthy/unhealthy status per component and
// aggregates it into a single degraded flag plus summary.
type DegradedModeTracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentStatus
	onChange   func(component string, healthy bool, reason string)
}

// NewDegradedModeTracker seeds the tracker with the core components marked
// healthy.
func NewDegradedModeTracker() *DegradedModeTracker {
	t := &DegradedModeTracker{components: map[string]*ComponentStatus{}}
	now := time.Now()
	for _, c := range []string{ComponentGEX, ComponentContext, ComponentDatabase} {
		t.components[c] = &ComponentStatus{Healthy: true, LastChange: now}
	}
	return t
}

// OnChange registers a callback fired when a component flips state. Used by
// the notifier; at most one callback.
func (t *DegradedModeTracker) OnChange(fn func(component string, healthy bool, reason string)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// RecordSuccess marks a component healthy.
func (t *DegradedModeTracker) RecordSuccess(component string) {
	t.mu.Lock()
	cs := t.ensure(component)
	flipped := !cs.Healthy
	cs.Healthy = true
	cs.LastSuccess = time.Now()
	if flipped {
		cs.LastChange = time.Now()
		cs.LastError = ""
	}
	cb := t.onChange
	t.mu.Unlock()

	if flipped {
		log.Info().Str("component", component).Msg("Component recovered")
		if cb != nil {
			cb(component, true, "")
		}
	}
}

// RecordFailure marks a component unhealthy with a reason.
func (t *DegradedModeTracker) RecordFailure(component, reason string) {
	t.mu.Lock()
	cs := t.ensure(component)
	flipped := cs.Healthy
	cs.Healthy = false
	cs.LastError = reason
	cs.FailCount++
	if flipped {
		cs.LastChange = time.Now()
	}
	cb := t.onChange
	t.mu.Unlock()

	if flipped {
		log.Warn().Str("component", component).Str("reason", reason).Msg("Component degraded")
		if cb != nil {
			cb(component, false, reason)
		}
	}
}

func (t *DegradedModeTracker) ensure(component string) *ComponentStatus {
	cs, ok := t.components[component]
	if !ok {
		cs = &ComponentStatus{Healthy: true, LastChange: time.Now()}
		t.components[component] = cs
	}
	return cs
}

// Snapshot is the aggregated degraded-mode view.
type Snapshot struct {
	Degraded   bool                       `json:"degraded"`
	Summary    string                     `json:"summary"`
	Components map[string]ComponentStatus `json:"components"`
}

// Status returns the per-component map plus the aggregate flag.
func (t *DegradedModeTracker) Status() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{Components: make(map[string]ComponentStatus, len(t.components))}
	var down []string
	for name, cs := range t.components {
		snap.Components[name] = *cs
		if !cs.Healthy {
			down = append(down, name)
		}
	}
	if len(down) > 0 {
		snap.Degraded = true
		snap.Summary = fmt.Sprintf("degraded: %s unhealthy", strings.Join(down, ", "))
	} else {
		snap.Summary = "all components healthy"
	}
	return snap
}

// ComponentHealthy reports one component's current state.
func (t *DegradedModeTracker) ComponentHealthy(component string) (ComponentStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs, ok := t.components[component]
	if !ok {
		return ComponentStatus{}, false
	}
	return *cs, true
}
