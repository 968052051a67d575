// Package metrics records provider and balancer activity as Prometheus collectors
// and as a JSON snapshot. A nil *Metrics is valid and records nothing.
package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tonlite/internal/liteerr"
)

const Namespace = "tonlite"

type Snapshot struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Requests    RequestMetrics          `json:"requests"`
	Balancer    BalancerMetrics         `json:"balancer"`
	Nodes       map[string]NodeSnapshot `json:"nodes"`
	Recent      []FailoverEvent         `json:"recent_failovers"`
}

type RequestMetrics struct {
	Total    uint64 `json:"total"`
	Failed   uint64 `json:"failed"`
	Timeouts uint64 `json:"timeouts"`
	Retries  uint64 `json:"retries"`
}

type BalancerMetrics struct {
	Failovers   uint64 `json:"failovers"`
	Reconnects  uint64 `json:"reconnects"`
	NoAliveNode uint64 `json:"no_alive_node"`
}

type NodeSnapshot struct {
	Seqno     int32   `json:"seqno"`
	PingRTTMs float64 `json:"ping_rtt_ms"`
	Requests  uint64  `json:"requests"`
	Errors    uint64  `json:"errors"`
}

// FailoverEvent is one node the balancer gave up on during a call.
type FailoverEvent struct {
	At     time.Time `json:"at"`
	Node   string    `json:"node"`
	Reason string    `json:"reason"`
}

type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	failovers      *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	pingRTT        *prometheus.GaugeVec
	seqno          *prometheus.GaugeVec

	total       atomic.Uint64
	failed      atomic.Uint64
	timeouts    atomic.Uint64
	retried     atomic.Uint64
	failedOver  atomic.Uint64
	reconnected atomic.Uint64
	noAlive     atomic.Uint64

	mu     sync.Mutex
	nodes  map[string]*NodeSnapshot
	recent *FailoverRecent
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Lite-server queries by node, method and result.",
		}, []string{"node", "method", "result"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_seconds",
			Help:      "Lite-server query latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 12},
		}, []string{"node", "method"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Queries resent after a retryable server error.",
		}, []string{"node", "code"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failovers_total",
			Help:      "Nodes skipped by the balancer during a call.",
		}, []string{"node", "reason"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by node and outcome.",
		}, []string{"node", "result"}),
		pingRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ping_rtt_seconds",
			Help:      "Last measured ping round trip.",
		}, []string{"node"}),
		seqno: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "masterchain_seqno",
			Help:      "Last masterchain seqno seen by node.",
		}, []string{"node"}),
		nodes:  make(map[string]*NodeSnapshot),
		recent: NewFailoverRecent(64),
	}
	m.registry.MustRegister(m.requests, m.requestSeconds, m.retries, m.failovers, m.reconnects, m.pingRTT, m.seqno)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Recent() *FailoverRecent {
	if m == nil {
		return nil
	}
	return m.recent
}

// node returns the per-node record; callers hold m.mu.
func (m *Metrics) node(addr string) *NodeSnapshot {
	n := m.nodes[addr]
	if n == nil {
		n = &NodeSnapshot{}
		m.nodes[addr] = n
	}
	return n
}

// Result classifies err for the result label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		se *liteerr.ServerError
		me *liteerr.MethodError
	)
	switch {
	case errors.As(err, &me):
		return "method_error"
	case liteerr.IsTimeout(err):
		return "timeout"
	case errors.As(err, &se):
		return "server_error"
	}
	return "error"
}

func (m *Metrics) ObserveRequest(node, method string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := Result(err)
	m.requests.WithLabelValues(node, method, result).Inc()
	m.requestSeconds.WithLabelValues(node, method).Observe(took.Seconds())
	m.total.Add(1)
	if err != nil {
		m.failed.Add(1)
	}
	if result == "timeout" {
		m.timeouts.Add(1)
	}
	m.mu.Lock()
	n := m.node(node)
	n.Requests++
	if err != nil {
		n.Errors++
	}
	m.mu.Unlock()
}

func (m *Metrics) IncRetry(node string, code int32) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(node, strconv.Itoa(int(code))).Inc()
	m.retried.Add(1)
}

func (m *Metrics) IncFailover(node, reason string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(node, reason).Inc()
	m.failedOver.Add(1)
	m.recent.Add(FailoverEvent{At: time.Now().UTC(), Node: node, Reason: reason})
}

func (m *Metrics) IncReconnect(node string, err error) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(node, Result(err)).Inc()
	m.reconnected.Add(1)
}

func (m *Metrics) IncNoAliveNode() {
	if m == nil {
		return
	}
	m.noAlive.Add(1)
}

func (m *Metrics) SetPingRTT(node string, rtt time.Duration) {
	if m == nil {
		return
	}
	m.pingRTT.WithLabelValues(node).Set(rtt.Seconds())
	m.mu.Lock()
	m.node(node).PingRTTMs = float64(rtt) / float64(time.Millisecond)
	m.mu.Unlock()
}

func (m *Metrics) SetSeqno(node string, seqno int32) {
	if m == nil {
		return
	}
	m.seqno.WithLabelValues(node).Set(float64(seqno))
	m.mu.Lock()
	m.node(node).Seqno = seqno
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{GeneratedAt: time.Now().UTC(), Nodes: map[string]NodeSnapshot{}}
	}
	m.mu.Lock()
	nodes := make(map[string]NodeSnapshot, len(m.nodes))
	for k, v := range m.nodes {
		nodes[k] = *v
	}
	m.mu.Unlock()
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Requests: RequestMetrics{
			Total:    m.total.Load(),
			Failed:   m.failed.Load(),
			Timeouts: m.timeouts.Load(),
			Retries:  m.retried.Load(),
		},
		Balancer: BalancerMetrics{
			Failovers:   m.failedOver.Load(),
			Reconnects:  m.reconnected.Load(),
			NoAliveNode: m.noAlive.Load(),
		},
		Nodes:  nodes,
		Recent: m.recent.List(),
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// FailoverRecent is a fixed-size ring of the latest failover events.
type FailoverRecent struct {
	mu   sync.Mutex
	cap  int
	list []FailoverEvent
}

func NewFailoverRecent(capacity int) *FailoverRecent {
	if capacity <= 0 {
		capacity = 64
	}
	return &FailoverRecent{cap: capacity}
}

func (r *FailoverRecent) Add(ev FailoverEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = ev
		return
	}
	r.list = append(r.list, ev)
}

func (r *FailoverRecent) List() []FailoverEvent {
	if r == nil {
		return []FailoverEvent{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FailoverEvent, len(r.list))
	copy(out, r.list)
	return out
}
