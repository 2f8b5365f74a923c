package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/drswing/internal/alert"
	"github.com/dreamware/drswing/internal/cluster"
	"github.com/dreamware/drswing/internal/config"
	"github.com/dreamware/drswing/internal/failover"
	"github.com/dreamware/drswing/internal/journal"
	"github.com/dreamware/drswing/internal/logging"
	"github.com/dreamware/drswing/internal/metrics"
	"github.com/dreamware/drswing/internal/mgmt"
	"github.com/dreamware/drswing/internal/probe"
	"github.com/dreamware/drswing/internal/status"
	"github.com/dreamware/drswing/internal/storage"
)

func runCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the failover controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			log, closeLog, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				File:   cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, cfg, log, prometheus.NewRegistry())
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}
			return rt.run(ctx)
		},
	}
}

// runtime is the wired controller process.
type runtime struct {
	cfg        *config.Config
	log        *zap.Logger
	store      storage.Store
	journal    *journal.Journal
	dispatcher *alert.Dispatcher
	ctrl       *failover.Controller
	status     *status.Server
}

type registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// setup builds every component from cfg. Any error here is fatal: the
// process must not start monitoring with a half-built pair.
func setup(ctx context.Context, cfg *config.Config, log *zap.Logger, reg registry) (rt *runtime, err error) {
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	store, err := storage.Open(cfg.State.Backend, cfg.State.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err != nil {
			store.Close()
		}
	}()
	j := journal.New(store, nil, journal.WithMaxEvents(cfg.State.MaxEvents))

	sessions, err := login(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	pair, err := newPair(cfg, sessions, mgmt.LinkOptions{
		RequestTimeout: cfg.Management.RequestTimeout,
		Retry:          cfg.RetryPolicy(),
		Log:            log,
		Metrics:        rec,
	})
	if err != nil {
		return nil, err
	}
	primary, err := initialPrimary(ctx, cfg, j, pair, sessions, log)
	if err != nil {
		return nil, err
	}
	if primary != pair.Primary() {
		pair.Swap()
	}

	prober, err := probe.New(cfg.Failover.ProbeMode)
	if err != nil {
		return nil, err
	}

	dispatcher := alert.NewDispatcher(alertSink(cfg, log), alert.DispatcherOptions{
		QueueSize: cfg.Alert.QueueSize,
		Log:       log,
		Metrics:   rec,
	})

	rt = &runtime{cfg: cfg, log: log, store: store, journal: j, dispatcher: dispatcher}
	rt.status = status.New(stateFunc(func() failover.Snapshot { return rt.ctrl.Snapshot() }), j, reg, log)

	rt.ctrl, err = failover.New(pair, cfg.FailoverSettings(),
		failover.WithProber(prober),
		failover.WithAlerter(dispatcher),
		failover.WithLogger(log),
		failover.WithMetrics(rec),
		failover.WithJournal(j),
		failover.WithStateListener(rt.status.Update),
	)
	if err != nil {
		dispatcher.Close(context.Background())
		return nil, err
	}
	if err := j.SavePrimary(primary.Hostname); err != nil {
		log.Warn("failed to persist primary", zap.Error(err))
	}
	return rt, nil
}

type stateFunc func() failover.Snapshot

func (f stateFunc) Snapshot() failover.Snapshot { return f() }

// login opens one management session per configured node, in config order.
func login(ctx context.Context, cfg *config.Config, log *zap.Logger) ([]*mgmt.Session, error) {
	client := mgmt.NewHTTPClient(cfg.Management.RequestTimeout, cfg.Management.InsecureSkipVerify)
	sessions := make([]*mgmt.Session, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		ctx, cancel := context.WithTimeout(ctx, cfg.Management.RequestTimeout)
		s, err := mgmt.Login(ctx, client, n.ManagementURL, cfg.Management.Username, cfg.Management.Password)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Hostname, err)
		}
		log.Info("management session established", zap.String("node", n.Hostname), zap.String("url", s.BaseURL()))
		sessions[i] = s
	}
	return sessions, nil
}

// newPair builds the node pair in config order with the configured roles.
// sessions must line up with cfg.Nodes.
func newPair(cfg *config.Config, sessions []*mgmt.Session, opts mgmt.LinkOptions) (*cluster.Pair, error) {
	nodes := make([]*cluster.Node, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		role := cluster.RoleSecondary
		if n.Primary {
			role = cluster.RolePrimary
		}
		nodes[i] = cluster.NewNode(n.Hostname, n.ProbeAddress, role, mgmt.NewLink(n.Hostname, sessions[i], opts))
	}
	return cluster.NewPair(nodes[0], nodes[1])
}

// initialPrimary picks the starting primary: the configured one, replaced by
// the persisted one when state.resume_primary is set, replaced by what the
// cluster itself reports when management.discover_roles is set.
func initialPrimary(ctx context.Context, cfg *config.Config, j *journal.Journal, pair *cluster.Pair, sessions []*mgmt.Session, log *zap.Logger) (*cluster.Node, error) {
	primary := pair.Primary()

	if cfg.State.ResumePrimary {
		saved, ok, err := j.LoadPrimary()
		if err != nil {
			return nil, fmt.Errorf("load persisted primary: %w", err)
		}
		if ok {
			if n, known := pair.Lookup(saved); !known {
				log.Warn("ignoring persisted primary not in configuration", zap.String("primary", saved))
			} else {
				if n != primary {
					log.Info("resuming persisted primary", zap.String("primary", saved), zap.String("configured", primary.Hostname))
				}
				primary = n
			}
		}
	}

	if cfg.Management.DiscoverRoles {
		for i, s := range sessions {
			ctx, cancel := context.WithTimeout(ctx, cfg.Management.RequestTimeout)
			info, err := s.ClusterInfo(ctx)
			cancel()
			if err != nil {
				log.Warn("cluster info unavailable", zap.String("node", cfg.Nodes[i].Hostname), zap.Error(err))
				continue
			}
			reported, _ := info.PrimaryHostname()
			n, ok := pair.Lookup(reported)
			if !ok {
				log.Warn("cluster reports unknown primary", zap.String("node", cfg.Nodes[i].Hostname), zap.String("primary", reported))
				continue
			}
			if n != primary {
				log.Info("using primary reported by cluster", zap.String("primary", reported), zap.String("previous", primary.Hostname))
			}
			primary = n
			break
		}
	}
	return primary, nil
}

// alertSink fans out to the log plus any configured transports.
func alertSink(cfg *config.Config, log *zap.Logger) alert.Sink {
	sinks := alert.Multi{alert.LogSink{Log: log}}
	if s := cfg.Alert.SMTP; s.Host != "" {
		sinks = append(sinks, &alert.SMTPSink{
			Host:       s.Host,
			Port:       s.Port,
			Username:   s.Username,
			Password:   s.Password,
			From:       s.From,
			Recipients: cfg.Alert.Recipients,
			StartTLS:   s.StartTLS,
		})
	}
	if w := cfg.Alert.Webhook; w.URL != "" {
		sinks = append(sinks, &alert.WebhookSink{
			URL:    w.URL,
			Client: &http.Client{Timeout: w.Timeout},
		})
	}
	return sinks
}

// run blocks until ctx is cancelled, then drains alerts and closes storage.
func (rt *runtime) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.ctrl.Run(gctx) })
	g.Go(func() error { return rt.status.Serve(gctx, rt.cfg.Server.HTTPAddr, rt.cfg.Server.GRPCAddr) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return multierr.Combine(err, rt.close())
}

func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Failover.DrainTimeout)
	defer cancel()

	err := rt.dispatcher.Close(ctx)
	err = multierr.Append(err, rt.store.Close())
	rt.log.Info("controller stopped", zap.Error(err))
	return err
}
