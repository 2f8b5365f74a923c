// Package main implements mockmanager, a stand-in for one management cluster
// node. It serves the login, token and disaster-recovery endpoints drswing
// talks to, so a controller can be exercised end to end without real
// hardware.
//
// Configuration:
//   - MOCK_HOSTNAME: hostname the node reports (required)
//   - MOCK_LISTEN: listen address (default ":8443")
//   - MOCK_PEER: hostname of the other node, reported in clusterInfo
//   - MOCK_PRIMARY: "true" if the node starts as primary (default "false")
//   - MOCK_USERNAME, MOCK_PASSWORD: accepted credentials (default admin/admin)
//
// Example usage:
//
//	MOCK_HOSTNAME=node-a MOCK_PEER=node-b MOCK_PRIMARY=true MOCK_LISTEN=:18443 ./mockmanager &
//	MOCK_HOSTNAME=node-b MOCK_PEER=node-a MOCK_LISTEN=:18444 ./mockmanager &
//
// Besides the management API it answers /health and /_mock/state, which
// reports the node's role and telemetry state as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/drswing/internal/logging"
	"github.com/dreamware/drswing/internal/mgmt/mgmttest"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = func(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

// StatePath reports the fake node's state.
const StatePath = "/_mock/state"

// State is the body served at StatePath.
type State struct {
	Hostname string `json:"hostname"`
	Primary  bool   `json:"primary"`
	Paused   bool   `json:"paused"`
}

type settings struct {
	hostname string
	listen   string
	peer     string
	primary  bool
	username string
	password string
}

func main() {
	log, closeLog, err := logging.New(logging.Options{Level: "info", Format: "console"})
	if err != nil {
		panic(err)
	}
	defer closeLog()

	cfg := loadSettings(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.listen)
	if err != nil {
		logFatal(log, "listen", zap.String("addr", cfg.listen), zap.Error(err))
		return
	}
	if err := serve(ctx, ln, newHandler(cfg), log); err != nil {
		logFatal(log, "serve", zap.Error(err))
	}
	log.Info("mockmanager stopped")
}

func loadSettings(log *zap.Logger) settings {
	primary, err := strconv.ParseBool(getenv("MOCK_PRIMARY", "false"))
	if err != nil {
		logFatal(log, "invalid MOCK_PRIMARY", zap.Error(err))
	}
	return settings{
		hostname: mustGetenv(log, "MOCK_HOSTNAME"),
		listen:   getenv("MOCK_LISTEN", ":8443"),
		peer:     os.Getenv("MOCK_PEER"),
		primary:  primary,
		username: getenv("MOCK_USERNAME", mgmttest.DefaultUsername),
		password: getenv("MOCK_PASSWORD", mgmttest.DefaultPassword),
	}
}

// newHandler wires a fake management node behind the health and state
// endpoints.
func newHandler(cfg settings) http.Handler {
	fake := mgmttest.NewServer(cfg.hostname, cfg.primary)
	fake.SetPeer(cfg.peer)
	fake.SetCredentials(cfg.username, cfg.password)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(StatePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(State{
			Hostname: cfg.hostname,
			Primary:  fake.Primary(),
			Paused:   fake.Paused(),
		})
	})
	mux.Handle("/", fake)
	return mux
}

// serve runs the HTTP server on ln until ctx is cancelled.
func serve(ctx context.Context, ln net.Listener, h http.Handler, log *zap.Logger) error {
	s := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("mockmanager listening", zap.String("addr", ln.Addr().String()))
		errc <- s.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
		return err
	}
	return nil
}

// getenv returns the value of k, or def when it is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(log *zap.Logger, k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal(log, "missing env", zap.String("key", k))
	return ""
}
