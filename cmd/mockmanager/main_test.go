package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/drswing/internal/mgmt"
)

func captureFatal(t *testing.T) *[]string {
	t.Helper()
	var msgs []string
	orig := logFatal
	logFatal = func(_ *zap.Logger, msg string, _ ...zap.Field) { msgs = append(msgs, msg) }
	t.Cleanup(func() { logFatal = orig })
	return &msgs
}

func TestGetenv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   string
		want  string
	}{
		{"set", "value", "default", "value"},
		{"empty falls back", "", "fallback", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MOCK_TEST_VAR", tt.value)
			assert.Equal(t, tt.want, getenv("MOCK_TEST_VAR", tt.def))
		})
	}
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("MOCK_HOSTNAME", "node-a")
	t.Setenv("MOCK_PEER", "node-b")
	t.Setenv("MOCK_PRIMARY", "true")
	t.Setenv("MOCK_LISTEN", "")
	fatal := captureFatal(t)

	cfg := loadSettings(zaptest.NewLogger(t))
	assert.Empty(t, *fatal)
	assert.Equal(t, settings{
		hostname: "node-a",
		listen:   ":8443",
		peer:     "node-b",
		primary:  true,
		username: "admin",
		password: "admin",
	}, cfg)
}

func TestLoadSettingsMissingHostname(t *testing.T) {
	t.Setenv("MOCK_HOSTNAME", "")
	t.Setenv("MOCK_PRIMARY", "maybe")
	fatal := captureFatal(t)

	loadSettings(zaptest.NewLogger(t))
	assert.Equal(t, []string{"invalid MOCK_PRIMARY", "missing env"}, *fatal)
}

func TestHandlerServesManagementAPI(t *testing.T) {
	srv := httptest.NewServer(newHandler(settings{hostname: "node-b", peer: "node-a", username: "ops", password: "secret"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx := context.Background()
	_, err = mgmt.Login(ctx, srv.Client(), srv.URL, "admin", "admin")
	assert.ErrorIs(t, err, mgmt.ErrAuthentication)

	s, err := mgmt.Login(ctx, srv.Client(), srv.URL, "ops", "secret")
	require.NoError(t, err)
	link := mgmt.NewLink("node-b", s, mgmt.LinkOptions{Log: zaptest.NewLogger(t)})

	assert.True(t, link.PauseTelemetry(ctx).OK())
	assert.Equal(t, State{Hostname: "node-b", Paused: true}, getState(t, srv.URL))

	assert.True(t, link.PromoteToPrimary(ctx).OK())
	assert.True(t, link.ResumeTelemetry(ctx).OK())
	assert.Equal(t, State{Hostname: "node-b", Primary: true}, getState(t, srv.URL))

	info, err := s.ClusterInfo(ctx)
	require.NoError(t, err)
	primary, ok := info.PrimaryHostname()
	assert.True(t, ok)
	assert.Equal(t, "node-b", primary)

	resp, err = http.Post(srv.URL+StatePath, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func getState(t *testing.T, base string) State {
	t.Helper()
	resp, err := http.Get(base + StatePath)
	require.NoError(t, err)
	defer resp.Body.Close()
	var st State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, newHandler(settings{hostname: "node-a"}), zap.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
