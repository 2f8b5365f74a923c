package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dreamware/drswing/internal/cluster"
	"github.com/dreamware/drswing/internal/failover"
	"github.com/dreamware/drswing/internal/journal"
	"github.com/dreamware/drswing/internal/metrics"
	"github.com/dreamware/drswing/internal/storage"
)

type staticState failover.Snapshot

func (s staticState) Snapshot() failover.Snapshot { return failover.Snapshot(s) }

type failingEvents struct{}

func (failingEvents) Events(int) ([]journal.Event, error) { return nil, errors.New("disk gone") }

func sampleSnapshot(primaryUp bool) failover.Snapshot {
	return failover.Snapshot{
		Primary: "node-a",
		Standby: "node-b",
		Nodes: []failover.NodeStatus{
			{Hostname: "node-a", Address: "10.0.0.1", Role: cluster.RolePrimary, Reachable: primaryUp},
			{Hostname: "node-b", Address: "10.0.0.2", Role: cluster.RoleSecondary, Reachable: true},
		},
		FailureThreshold: 5,
		Ticks:            12,
	}
}

func TestHandlerHealth(t *testing.T) {
	srv := httptest.NewServer(New(staticState(sampleSnapshot(true)), nil, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerStatus(t *testing.T) {
	srv := httptest.NewServer(New(staticState(sampleSnapshot(true)), nil, nil, nil).Handler())
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-a", snap.Primary)
	assert.Equal(t, uint64(12), snap.Ticks)
	require.Len(t, snap.Nodes, 2)
	assert.Equal(t, cluster.RoleSecondary, snap.Nodes[1].Role)

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	rep, err := c.Report(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rep.Storage, "no journal, no storage figures")
}

func TestHandlerStatusReportsStorage(t *testing.T) {
	j := journal.New(storage.NewMemoryStore(), nil, journal.WithMaxEvents(2))
	for i := 0; i < 4; i++ {
		_, err := j.Record(journal.Event{Kind: journal.KindTelemetryPaused})
		require.NoError(t, err)
	}
	srv := httptest.NewServer(New(staticState(sampleSnapshot(true)), j, nil, nil).Handler())
	defer srv.Close()

	rep, err := (&Client{BaseURL: srv.URL}).Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "node-a", rep.Primary)
	require.NotNil(t, rep.Storage)
	assert.Equal(t, 2, rep.Storage.Keys)
	assert.Positive(t, rep.Storage.Bytes)
}

func TestHandlerEvents(t *testing.T) {
	j := journal.New(storage.NewMemoryStore(), nil)
	for _, k := range []journal.Kind{journal.KindPromotionStarted, journal.KindPromotionSucceeded, journal.KindTelemetryResumed} {
		_, err := j.Record(journal.Event{Kind: k, Node: "node-b"})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	srv := httptest.NewServer(New(staticState(sampleSnapshot(true)), j, nil, nil).Handler())
	defer srv.Close()
	c := &Client{BaseURL: srv.URL}

	events, err := c.Events(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, journal.KindPromotionSucceeded, events[0].Kind)
	assert.Equal(t, journal.KindTelemetryResumed, events[1].Kind)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"bad limit", "?limit=abc", http.StatusBadRequest},
		{"negative limit", "?limit=-1", http.StatusBadRequest},
		{"default limit", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/events" + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHandlerEventsEmptyAndErrors(t *testing.T) {
	empty := httptest.NewServer(New(staticState{}, journal.New(storage.NewMemoryStore(), nil), nil, nil).Handler())
	defer empty.Close()

	resp, err := http.Get(empty.URL + "/events")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"events":[]}`, string(body))

	broken := httptest.NewServer(New(staticState{}, failingEvents{}, nil, nil).Handler())
	defer broken.Close()
	resp, err = http.Get(broken.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	disabled := httptest.NewServer(New(staticState{}, nil, nil, nil).Handler())
	defer disabled.Close()
	resp, err = http.Get(disabled.URL + "/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)
	rec.RecordPromotion(true)

	srv := httptest.NewServer(New(staticState{}, nil, reg, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `drswing_promotions_total{result="success"} 1`)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.Write([]byte("not json"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	_, err := c.Snapshot(context.Background())
	assert.ErrorContains(t, err, "decode /status")

	_, err = c.Events(context.Background(), 5)
	assert.ErrorContains(t, err, "503")
}

func TestGRPCHealthFollowsPrimary(t *testing.T) {
	s := New(staticState{}, nil, nil, nil)

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	s.RegisterGRPC(g)
	go g.Serve(lis)
	defer g.Stop()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := CheckHealth(ctx, "passthrough:///bufnet", dialer)
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	s.Update(sampleSnapshot(true))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	s.Update(sampleSnapshot(false))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := New(staticState(sampleSnapshot(true)), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0", "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := New(staticState{}, nil, nil, nil)
	err = s.Serve(context.Background(), "", ln.Addr().String())
	assert.ErrorContains(t, err, "status grpc listen")
}

func TestSnapshotJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(sampleSnapshot(true))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "consecutive_failures")
	assert.Contains(t, m, "outage_alerted")
}
