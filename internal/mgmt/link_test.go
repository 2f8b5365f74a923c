package mgmt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/drswing/internal/cluster"
	"github.com/dreamware/drswing/internal/mgmt/mgmttest"
)

var fastRetry = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

func startFake(t *testing.T, hostname string, primary bool) (*mgmttest.Server, *httptest.Server) {
	t.Helper()
	fake := mgmttest.NewServer(hostname, primary)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func login(t *testing.T, url string) *Session {
	t.Helper()
	s, err := Login(context.Background(), NewHTTPClient(5*time.Second, false), url,
		mgmttest.DefaultUsername, mgmttest.DefaultPassword)
	require.NoError(t, err)
	return s
}

func countPath(calls []mgmttest.Call, path string) int {
	n := 0
	for _, c := range calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func TestLogin(t *testing.T) {
	_, srv := startFake(t, "node-a", true)

	s := login(t, srv.URL+"/")
	assert.Equal(t, srv.URL, s.BaseURL())
	assert.Contains(t, s.cookie, "JSESSIONID=")
	assert.NotEmpty(t, s.token)
}

func TestLoginBadCredentials(t *testing.T) {
	_, srv := startFake(t, "node-a", true)

	_, err := Login(context.Background(), NewHTTPClient(5*time.Second, false), srv.URL, "admin", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Contains(t, err.Error(), "401")
}

func TestLoginUnreachable(t *testing.T) {
	_, srv := startFake(t, "node-a", true)
	url := srv.URL
	srv.Close()

	_, err := Login(context.Background(), NewHTTPClient(time.Second, false), url, "admin", "admin")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestLinkOperations(t *testing.T) {
	fake, srv := startFake(t, "node-b", false)
	link := NewLink("node-b", login(t, srv.URL), LinkOptions{Retry: fastRetry})
	ctx := context.Background()

	out := link.PauseTelemetry(ctx)
	assert.True(t, out.OK(), out.String())
	assert.True(t, fake.Paused())

	out = link.PromoteToPrimary(ctx)
	assert.True(t, out.OK(), out.String())
	assert.True(t, fake.Primary())

	out = link.ResumeTelemetry(ctx)
	assert.True(t, out.OK(), out.String())
	assert.False(t, fake.Paused())

	assert.Equal(t, []string{mgmttest.PausePath, mgmttest.ActivatePath, mgmttest.UnpausePath}, fake.Paths())
}

func TestLinkRejectionsAreNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason cluster.Reason
	}{
		{"bad request", http.StatusBadRequest, cluster.ReasonBadRequest},
		{"forbidden", http.StatusForbidden, cluster.ReasonInsufficientPermission},
		{"server error", http.StatusInternalServerError, cluster.ReasonInternalError},
		{"unexpected", http.StatusTeapot, cluster.ReasonUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := startFake(t, "node-b", false)
			link := NewLink("node-b", login(t, srv.URL), LinkOptions{Retry: fastRetry})

			fake.FailNext(mgmttest.ActivatePath, tt.status)
			out := link.PromoteToPrimary(context.Background())

			assert.Equal(t, cluster.Rejected, out.Kind)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, tt.status, out.StatusCode)
			assert.False(t, fake.Primary())
			assert.Equal(t, 1, countPath(fake.Calls(), mgmttest.ActivatePath))
		})
	}
}

func TestLinkRetriesTransportFailure(t *testing.T) {
	fake, srv := startFake(t, "node-b", false)
	link := NewLink("node-b", login(t, srv.URL), LinkOptions{Retry: fastRetry})

	fake.FailNext(mgmttest.ActivatePath, mgmttest.DropConnection, mgmttest.DropConnection)
	out := link.PromoteToPrimary(context.Background())

	assert.True(t, out.OK(), out.String())
	assert.Equal(t, 3, countPath(fake.Calls(), mgmttest.ActivatePath))
	assert.True(t, fake.Primary())
}

func TestLinkGivesUpAfterMaxAttempts(t *testing.T) {
	fake, srv := startFake(t, "node-b", false)
	core, logs := observer.New(zapcore.InfoLevel)
	link := NewLink("node-b", login(t, srv.URL), LinkOptions{Retry: fastRetry, Log: zap.New(core)})

	fake.FailNext(mgmttest.ActivatePath,
		mgmttest.DropConnection, mgmttest.DropConnection, mgmttest.DropConnection, mgmttest.DropConnection)
	out := link.PromoteToPrimary(context.Background())

	assert.Equal(t, cluster.TransportFailure, out.Kind)
	assert.Equal(t, cluster.ReasonConnection, out.Reason)
	assert.Equal(t, 3, countPath(fake.Calls(), mgmttest.ActivatePath))
	assert.Equal(t, 3, logs.FilterMessage("management call transport failure").Len())
	require.Equal(t, 1, logs.FilterMessage("management call failed").Len())
	assert.Equal(t, "node-b", logs.FilterMessage("management call failed").All()[0].ContextMap()["node"])
}

func TestLinkRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	s := &Session{baseURL: srv.URL, client: NewHTTPClient(0, false), cookie: "JSESSIONID=x"}
	link := NewLink("node-b", s, LinkOptions{
		RequestTimeout: 20 * time.Millisecond,
		Retry:          RetryPolicy{MaxAttempts: 1},
	})

	out := link.PauseTelemetry(context.Background())
	assert.Equal(t, cluster.TransportFailure, out.Kind)
	assert.Equal(t, cluster.ReasonTimeout, out.Reason)
}

func TestLinkLogsRejectionHint(t *testing.T) {
	fake, srv := startFake(t, "node-b", false)
	core, logs := observer.New(zapcore.InfoLevel)
	link := NewLink("node-b", login(t, srv.URL), LinkOptions{Retry: fastRetry, Log: zap.New(core)})

	fake.FailNext(mgmttest.PausePath, http.StatusForbidden)
	link.PauseTelemetry(context.Background())

	entries := logs.FilterMessage("management call rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, OpPause, fields["operation"])
	assert.Equal(t, int64(http.StatusForbidden), fields["status"])
	assert.Equal(t, cluster.ReasonInsufficientPermission.Hint(), fields["hint"])
}

func TestClusterInfo(t *testing.T) {
	fake, srv := startFake(t, "node-a", false)
	fake.SetPeer("node-b")
	s := login(t, srv.URL)

	info, err := s.ClusterInfo(context.Background())
	require.NoError(t, err)
	primary, ok := info.PrimaryHostname()
	require.True(t, ok)
	assert.Equal(t, "node-b", primary)
	require.Len(t, info.Secondary, 1)
	assert.Equal(t, "node-a", info.Secondary[0].HostName)

	fake.FailNext(mgmttest.ClusterInfoPath, http.StatusInternalServerError)
	_, err = s.ClusterInfo(context.Background())
	assert.Error(t, err)
}

func TestClusterInfoPrimaryHostnameEmpty(t *testing.T) {
	_, ok := ClusterInfo{}.PrimaryHostname()
	assert.False(t, ok)
}

func TestRetryPolicyBudget(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		timeout time.Duration
		want    time.Duration
	}{
		{"single attempt", RetryPolicy{MaxAttempts: 1, InitialInterval: time.Second}, 5 * time.Second, 5 * time.Second},
		{"zero attempts counts as one", RetryPolicy{}, time.Second, time.Second},
		// 3x5s, waits of 0.5s and 0.75s drawn at +50%
		{"defaults", DefaultRetryPolicy, 5 * time.Second, 15*time.Second + 750*time.Millisecond + 1125*time.Millisecond},
		{"capped interval", RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: time.Second}, 0, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Budget(tt.timeout))
		})
	}
}

// A call whose context expires stops after the attempt in flight, even with
// retries left.
func TestLinkStopsAtContextDeadline(t *testing.T) {
	fake := mgmttest.NewServer("node-a", true)
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.Handle("/", fake)
	mux.HandleFunc(PausePath, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	link := NewLink("node-a", login(t, srv.URL), LinkOptions{
		RequestTimeout: time.Second,
		Retry:          RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	out := link.PauseTelemetry(ctx)

	assert.False(t, out.OK())
	assert.Equal(t, cluster.TransportFailure, out.Kind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
