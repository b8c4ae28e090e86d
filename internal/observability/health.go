package observability

import (
	"time"
)

// Pinger is the database liveness probe (implemented by the store).
type Pinger interface {
	Ping() error
}

// HealthStatus labels.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthReport is the composite health view served at /health.
type HealthReport struct {
	Status     string                     `json:"status"`
	Mode       string                     `json:"mode"`
	UptimeSecs float64                    `json:"uptime_seconds"`
	Degraded   bool                       `json:"degraded"`
	Summary    string                     `json:"summary"`
	Components map[string]ComponentStatus `json:"components"`
	LastSignal *time.Time                 `json:"last_signal_at,omitempty"`
	LastOrder  *time.Time                 `json:"last_order_at,omitempty"`
}

// HealthCheckService composes the degraded tracker with a live database
// probe into per-component and composite health.
type HealthCheckService struct {
	tracker *DegradedModeTracker
	metrics *MetricsService
	db      Pinger
	mode    string
}

func NewHealthCheckService(tracker *DegradedModeTracker, metrics *MetricsService, db Pinger, mode string) *HealthCheckService {
	return &HealthCheckService{tracker: tracker, metrics: metrics, db: db, mode: mode}
}

// Check probes the database, folds in tracker state, and returns the
// composite report. Healthy maps to HTTP 200, anything else to 503.
func (h *HealthCheckService) Check(lastSignal, lastOrder *time.Time) HealthReport {
	if err := h.db.Ping(); err != nil {
		h.tracker.RecordFailure(ComponentDatabase, err.Error())
	} else {
		h.tracker.RecordSuccess(ComponentDatabase)
	}

	snap := h.tracker.Status()
	status := StatusHealthy
	if snap.Degraded {
		status = StatusDegraded
		if db, ok := snap.Components[ComponentDatabase]; ok && !db.Healthy {
			status = StatusUnhealthy
		}
	}

	return HealthReport{
		Status:     status,
		Mode:       h.mode,
		UptimeSecs: h.metrics.Uptime().Seconds(),
		Degraded:   snap.Degraded,
		Summary:    snap.Summary,
		Components: snap.Components,
		LastSignal: lastSignal,
		LastOrder:  lastOrder,
	}
}

// Component returns one component's detail for /health/{name}.
func (h *HealthCheckService) Component(name string) (ComponentStatus, bool) {
	if name == ComponentDatabase {
		if err := h.db.Ping(); err != nil {
			h.tracker.RecordFailure(ComponentDatabase, err.Error())
		} else {
			h.tracker.RecordSuccess(ComponentDatabase)
		}
	}
	return h.tracker.ComponentHealthy(name)
}
