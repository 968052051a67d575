package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonlite/internal/liteerr"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("n1", "getTime", 10*time.Millisecond, nil)
	m.ObserveRequest("n1", "getTime", 10*time.Millisecond, &liteerr.ServerError{Code: 228})
	m.ObserveRequest("n2", "runSmcMethod", time.Second, &liteerr.TimeoutError{Scope: liteerr.ScopeProvider})
	m.IncRetry("n1", 228)
	m.IncFailover("n1", "rate_limit")
	m.IncReconnect("n2", errors.New("refused"))
	m.IncNoAliveNode()
	m.SetPingRTT("n1", 25*time.Millisecond)
	m.SetSeqno("n1", 42)

	snap := m.Snapshot()
	assert.Equal(t, RequestMetrics{Total: 3, Failed: 2, Timeouts: 1, Retries: 1}, snap.Requests)
	assert.Equal(t, BalancerMetrics{Failovers: 1, Reconnects: 1, NoAliveNode: 1}, snap.Balancer)
	assert.Equal(t, NodeSnapshot{Seqno: 42, PingRTTMs: 25, Requests: 2, Errors: 1}, snap.Nodes["n1"])
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, "rate_limit", snap.Recent[0].Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("n1", "getTime", "server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("n1", "228")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.seqno.WithLabelValues("n1")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("n", "x", time.Second, nil)
	m.IncRetry("n", 1)
	m.IncFailover("n", "x")
	m.SetSeqno("n", 1)
	snap := m.Snapshot()
	assert.Zero(t, snap.Requests.Total)
	assert.NoError(t, m.WriteSnapshot(""))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "method_error", Result(&liteerr.MethodError{ExitCode: 11}))
	assert.Equal(t, "server_error", Result(&liteerr.RetryLimitError{Last: &liteerr.ServerError{Code: 651}}))
	assert.Equal(t, "error", Result(liteerr.ErrNotConnected))
}

func TestHandlerAndSnapshotFile(t *testing.T) {
	m := New()
	m.SetSeqno("n1", 7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `tonlite_masterchain_seqno{node="n1"} 7`))

	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, m.WriteSnapshot(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, int32(7), snap.Nodes["n1"].Seqno)
}

func TestFailoverRecentRing(t *testing.T) {
	r := NewFailoverRecent(2)
	r.Add(FailoverEvent{Node: "a"})
	r.Add(FailoverEvent{Node: "b"})
	r.Add(FailoverEvent{Node: "c"})
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Node)
	assert.Equal(t, "c", list[1].Node)
}
