package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

const latencyWindow = 100

type ProviderState int32

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ProviderMetrics keeps running counters and a sliding window of latencies.
type ProviderMetrics struct {
	Requests         atomic.Int64
	Succeeded        atomic.Int64
	Failed           atomic.Int64
	LatencyTotalMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastFailure      atomic.Int64
	LastSuccess      atomic.Int64

	mu        sync.Mutex
	latencies []int64
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{latencies: make([]int64, 0, latencyWindow)}
}

func (m *ProviderMetrics) RecordSuccess(latency time.Duration) {
	ms := latency.Milliseconds()
	m.Requests.Add(1)
	m.Succeeded.Add(1)
	m.LatencyTotalMs.Add(ms)
	m.ConsecutiveFails.Store(0)
	m.LastSuccess.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencies) == latencyWindow {
		copy(m.latencies, m.latencies[1:])
		m.latencies = m.latencies[:latencyWindow-1]
	}
	m.latencies = append(m.latencies, ms)
	m.mu.Unlock()
}

func (m *ProviderMetrics) RecordFailure() {
	m.Requests.Add(1)
	m.Failed.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastFailure.Store(time.Now().Unix())
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.Requests.Load()
	if total == 0 {
		return 1
	}
	return float64(m.Succeeded.Load()) / float64(total)
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	ok := m.Succeeded.Load()
	if ok == 0 {
		return 0
	}
	return m.LatencyTotalMs.Load() / ok
}

func (m *ProviderMetrics) P95LatencyMs() int64 {
	m.mu.Lock()
	sorted := append([]int64(nil), m.latencies...)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Provider is one upstream email API endpoint.
type Provider struct {
	name    string
	url     string
	weight  int
	client  *fasthttp.Client
	metrics *ProviderMetrics

	state     atomic.Int32
	openUntil atomic.Int64
}

func NewProvider(name, url string, weight int, client *fasthttp.Client) *Provider {
	p := &Provider{
		name:    name,
		url:     url,
		weight:  weight,
		client:  client,
		metrics: NewProviderMetrics(),
	}
	p.SetState(StateHealthy)
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) State() ProviderState {
	return ProviderState(p.state.Load())
}

func (p *Provider) SetState(s ProviderState) {
	p.state.Store(int32(s))
}

// Available reports whether requests may be routed to p. An open circuit
// past its deadline is half-opened into the degraded state.
func (p *Provider) Available(now time.Time) bool {
	switch p.State() {
	case StateUnhealthy:
		return false
	case StateCircuitOpen:
		if now.Unix() < p.openUntil.Load() {
			return false
		}
		p.state.CompareAndSwap(int32(StateCircuitOpen), int32(StateDegraded))
		return true
	}
	return true
}

func (p *Provider) openCircuit(until time.Time) {
	p.openUntil.Store(until.Unix())
	p.SetState(StateCircuitOpen)
}

// Score ranks available providers; zero means do not use.
func (p *Provider) Score(now time.Time) float64 {
	if !p.Available(now) {
		return 0
	}

	latency := 1.0
	if avg := p.metrics.AvgLatencyMs(); avg > 0 {
		latency = 1 - float64(avg)/5000
		if latency < 0 {
			latency = 0
		}
	}

	streak := 1 - 0.1*float64(p.metrics.ConsecutiveFails.Load())
	if streak < 0.1 {
		streak = 0.1
	}

	state := 1.0
	if p.State() == StateDegraded {
		state = 0.5
	}

	perf := 40*p.metrics.SuccessRate() + 40*latency + 0.2*float64(p.weight)
	return perf * streak * state
}

type ProviderStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	Requests         int64   `json:"requests"`
	Failed           int64   `json:"failed"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (p *Provider) Stats(now time.Time) ProviderStats {
	return ProviderStats{
		Name:             p.name,
		URL:              p.url,
		State:            p.State().String(),
		Score:            p.Score(now),
		Requests:         p.metrics.Requests.Load(),
		Failed:           p.metrics.Failed.Load(),
		SuccessRate:      p.metrics.SuccessRate(),
		AvgLatencyMs:     p.metrics.AvgLatencyMs(),
		P95LatencyMs:     p.metrics.P95LatencyMs(),
		ConsecutiveFails: p.metrics.ConsecutiveFails.Load(),
	}
}
