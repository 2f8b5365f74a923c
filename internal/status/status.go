// Package status serves the controller's state to operators: an HTTP API with
// health, snapshot, event and Prometheus endpoints, and a gRPC health service.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dreamware/drswing/internal/failover"
	"github.com/dreamware/drswing/internal/journal"
	"github.com/dreamware/drswing/internal/storage"
)

// HealthService is the gRPC health service name reporting whether the
// current primary is reachable.
const HealthService = "drswing.failover"

// DefaultEventLimit is used by /events when no limit is given.
const DefaultEventLimit = 50

// StateSource provides controller snapshots.
type StateSource interface {
	Snapshot() failover.Snapshot
}

// EventSource provides journal events, oldest first.
type EventSource interface {
	Events(limit int) ([]journal.Event, error)
}

// StorageSource is implemented by event sources that can report the size of
// their backing store; /status includes it when available.
type StorageSource interface {
	Stats() storage.StoreStats
}

// Report is the body of /status.
type Report struct {
	failover.Snapshot `yaml:",inline"`
	Storage *storage.StoreStats `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// Server exposes controller state over HTTP and gRPC.
type Server struct {
	state    StateSource
	events   EventSource
	gatherer prometheus.Gatherer
	log      *zap.Logger
	health   *health.Server
}

// New creates a status server. events and gatherer may be nil, in which case
// the matching endpoints answer 404.
func New(state StateSource, events EventSource, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		state:    state,
		events:   events,
		gatherer: gatherer,
		log:      log,
		health:   health.NewServer(),
	}
	// nothing is known before the first tick
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Update publishes a snapshot to the gRPC health service. It is meant to be
// registered with failover.WithStateListener.
func (s *Server) Update(snap failover.Snapshot) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if snap.PrimaryReachable() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(HealthService, st)
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/events", s.handleEvents)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// RegisterGRPC adds the health service to g.
func (s *Server) RegisterGRPC(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rep := Report{Snapshot: s.state.Snapshot()}
	if src, ok := s.events.(StorageSource); ok {
		stats := src.Stats()
		rep.Storage = &stats
	}
	writeJSON(w, rep)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		http.Error(w, "event journal disabled", http.StatusNotFound)
		return
	}

	limit := DefaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.events.Events(limit)
	if err != nil {
		s.log.Error("failed to read events", zap.Error(err))
		http.Error(w, "failed to read events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, struct {
		Events []journal.Event `json:"events"`
	}{Events: events})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the HTTP and gRPC listeners until ctx is cancelled, then shuts
// both down gracefully. An empty address skips that listener.
func (s *Server) Serve(ctx context.Context, httpAddr, grpcAddr string) error {
	var httpLn, grpcLn net.Listener
	var err error
	if httpAddr != "" {
		if httpLn, err = net.Listen("tcp", httpAddr); err != nil {
			return fmt.Errorf("status http listen: %w", err)
		}
	}
	if grpcAddr != "" {
		if grpcLn, err = net.Listen("tcp", grpcAddr); err != nil {
			if httpLn != nil {
				httpLn.Close()
			}
			return fmt.Errorf("status grpc listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if httpLn != nil {
		httpSrv := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.log.Info("status http listening", zap.String("addr", httpLn.Addr().String()))
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if grpcLn != nil {
		grpcSrv := grpc.NewServer()
		s.RegisterGRPC(grpcSrv)
		g.Go(func() error {
			s.log.Info("status grpc listening", zap.String("addr", grpcLn.Addr().String()))
			return grpcSrv.Serve(grpcLn)
		})
		g.Go(func() error {
			<-ctx.Done()
			s.health.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}
