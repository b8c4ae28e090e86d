package observability

import (
	"sort"
	"sync"
	"time"
)

// Latency series names.
const (
	SeriesSignalProcessing = "signal_processing"
	SeriesDecision         = "decision"
	SeriesExecution        = "execution"
)

// Keep the most recent samples per series for percentile math.
const maxSamples = 1024

// LatencyStats summarizes one series in milliseconds.
type LatencyStats struct {
	Count int64   `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// SignalStats counts pipeline outcomes.
type SignalStats struct {
	Accepted         int64            `json:"accepted"`
	Rejected         int64            `json:"rejected"`
	RejectionReasons map[string]int64 `json:"rejection_reasons"`
	AcceptanceRate   float64          `json:"acceptance_rate"`
}

type series struct {
	count   int64
	sum     float64
	min     float64
	max     float64
	samples []float64 // ring buffer
	next    int
}

// MetricsService is the in-memory metrics singleton.
type MetricsService struct {
	mu       sync.RWMutex
	accepted int64
	rejected int64
	reasons  map[string]int64
	latency  map[string]*series
	started  time.Time
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		reasons: map[string]int64{},
		latency: map[string]*series{},
		started: time.Now(),
	}
}

// RecordSignalAccepted bumps the accepted counter.
func (m *MetricsService) RecordSignalAccepted() {
	m.mu.Lock()
	m.accepted++
	m.mu.Unlock()
}

// RecordSignalRejected bumps the rejected counter and the reason histogram.
func (m *MetricsService) RecordSignalRejected(reason string) {
	m.mu.Lock()
	m.rejected++
	m.reasons[reason]++
	m.mu.Unlock()
}

// RecordLatency adds one sample to a named series.
func (m *MetricsService) RecordLatency(name string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.mu.Lock()
	s, ok := m.latency[name]
	if !ok {
		s = &series{min: ms, max: ms, samples: make([]float64, 0, maxSamples)}
		m.latency[name] = s
	}
	s.count++
	s.sum += ms
	if ms < s.min || s.count == 1 {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
	if len(s.samples) < maxSamples {
		s.samples = append(s.samples, ms)
	} else {
		s.samples[s.next] = ms
		s.next = (s.next + 1) % maxSamples
	}
	m.mu.Unlock()
}

// Signals returns the signal counters snapshot.
func (m *MetricsService) Signals() SignalStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := SignalStats{
		Accepted:         m.accepted,
		Rejected:         m.rejected,
		RejectionReasons: make(map[string]int64, len(m.reasons)),
	}
	for k, v := range m.reasons {
		out.RejectionReasons[k] = v
	}
	if total := m.accepted + m.rejected; total > 0 {
		out.AcceptanceRate = float64(m.accepted) / float64(total)
	}
	return out
}

// Latency returns stats for every recorded series.
func (m *MetricsService) Latency() map[string]LatencyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]LatencyStats, len(m.latency))
	for name, s := range m.latency {
		st := LatencyStats{Count: s.count, MinMs: s.min, MaxMs: s.max}
		if s.count > 0 {
			st.AvgMs = s.sum / float64(s.count)
		}
		if len(s.samples) > 0 {
			sorted := append([]float64(nil), s.samples...)
			sort.Float64s(sorted)
			st.P50Ms = percentile(sorted, 0.50)
			st.P95Ms = percentile(sorted, 0.95)
			st.P99Ms = percentile(sorted, 0.99)
		}
		out[name] = st
	}
	return out
}

// Uptime since service construction.
func (m *MetricsService) Uptime() time.Duration {
	return time.Since(m.started)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
