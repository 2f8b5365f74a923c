package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/drswing/internal/alert"
	"github.com/dreamware/drswing/internal/cluster"
	"github.com/dreamware/drswing/internal/journal"
	"github.com/dreamware/drswing/internal/metrics"
	"github.com/dreamware/drswing/internal/probe"
)

// Alerter accepts an alert without blocking. *alert.Dispatcher satisfies it.
type Alerter interface {
	Notify(a alert.Alert) bool
}

// Observation is the result of probing both nodes of the pair in one tick.
type Observation struct {
	AReachable bool
	BReachable bool
}

// Action is what a tick did beyond bookkeeping.
type Action string

const (
	ActionNone            Action = "none"
	ActionAlert           Action = "alert"
	ActionPromoted        Action = "promoted"
	ActionPromotionFailed Action = "promotion_failed"
)

// Decision is the outcome of evaluating one observation. A sequence of
// decisions is the controller's trajectory.
type Decision struct {
	Tick          uint64
	Observation   Observation
	Action        Action
	Primary       string
	Failures      uint
	OutageAlerted bool
}

// Controller runs the monitoring loop for one active/standby pair.
// Thread-safe: evalMu serialises Evaluate, mu guards the state read by
// Snapshot. Management calls are made with only evalMu held.
type Controller struct {
	cfg      Config
	prober   probe.Prober
	alerter  Alerter
	clock    clockwork.Clock
	log      *zap.Logger
	metrics  *metrics.Recorder
	journal  *journal.Journal
	listener func(Snapshot)

	evalMu sync.Mutex

	mu              sync.Mutex
	promoting       bool
	pair            *cluster.Pair
	failures        uint
	outageAlerted   bool
	telemetryPaused bool
	last            Observation
	lastTick        time.Time
	ticks           uint64
	promotions      uint64
	failedAttempts  uint64
}

// Option customises a Controller.
type Option func(*Controller)

// WithProber sets the reachability check. The default is an unprivileged
// ICMP echo.
func WithProber(p probe.Prober) Option { return func(c *Controller) { c.prober = p } }

// WithAlerter sets where outage alerts go. Without one alerts are only logged.
func WithAlerter(a Alerter) Option { return func(c *Controller) { c.alerter = a } }

// WithClock replaces the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option { return func(c *Controller) { c.clock = clock } }

func WithLogger(log *zap.Logger) Option { return func(c *Controller) { c.log = log } }

func WithMetrics(m *metrics.Recorder) Option { return func(c *Controller) { c.metrics = m } }

// WithJournal records events and the current primary in j.
func WithJournal(j *journal.Journal) Option { return func(c *Controller) { c.journal = j } }

// WithStateListener registers fn to receive a snapshot after every tick.
// fn runs on the loop goroutine without the controller lock held.
func WithStateListener(fn func(Snapshot)) Option { return func(c *Controller) { c.listener = fn } }

// New creates a controller for pair.
//
// Parameters:
//   - pair: The two managed nodes; the controller takes ownership
//   - cfg: Tuning; zero fields take their DefaultConfig values
//   - opts: Optional collaborators (prober, alerter, clock, logger, ...)
//
// Returns:
//   - *Controller: Ready to Run
//   - error: If pair is nil or cfg is invalid
//
// Example:
//
//	ctrl, err := failover.New(pair, cfg,
//	    failover.WithProber(&probe.TCPProber{}),
//	    failover.WithAlerter(dispatcher))
//	if err != nil {
//	    return err
//	}
//	go ctrl.Run(ctx)
func New(pair *cluster.Pair, cfg Config, opts ...Option) (*Controller, error) {
	if pair == nil {
		return nil, errors.New("failover: nil pair")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failover config: %w", err)
	}

	c := &Controller{
		cfg:    cfg,
		pair:   pair,
		prober: &probe.ICMPProber{},
		clock:  clockwork.NewRealClock(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.metrics.SetPrimary(pair.Primary().Hostname, pair.A().Hostname, pair.B().Hostname)
	return c, nil
}

// Run probes both nodes immediately and then once per interval until ctx is
// cancelled. It returns nil on cancellation.
//
// Example:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := ctrl.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("failover controller started",
		zap.String("primary", c.Snapshot().Primary),
		zap.Duration("interval", c.cfg.Interval),
		zap.Uint("threshold", c.cfg.FailureThreshold))

	for {
		c.Tick(ctx)

		select {
		case <-ctx.Done():
			c.log.Info("failover controller stopping")
			return nil
		case <-c.clock.After(c.cfg.Interval):
		}
	}
}

// Tick runs one probe-and-evaluate cycle. ok is false when ctx ended during
// the probes; the observation is then discarded, because a probe cut short
// by shutdown says nothing about the node.
func (c *Controller) Tick(ctx context.Context) (d Decision, ok bool) {
	obs := c.observe(ctx)
	if ctx.Err() != nil {
		return Decision{}, false
	}
	return c.Evaluate(ctx, obs), true
}

// observe probes both nodes concurrently. Tick latency is bounded by the
// slower of the two probes.
func (c *Controller) observe(ctx context.Context) Observation {
	a, b := c.pair.A(), c.pair.B()

	var obs Observation
	var g errgroup.Group
	g.Go(func() error {
		obs.AReachable = c.prober.Probe(ctx, a.Address, c.cfg.ProbeTimeout)
		return nil
	})
	g.Go(func() error {
		obs.BReachable = c.prober.Probe(ctx, b.Address, c.cfg.ProbeTimeout)
		return nil
	})
	_ = g.Wait()

	c.metrics.ObserveProbe(a.Hostname, obs.AReachable)
	c.metrics.ObserveProbe(b.Hostname, obs.BReachable)
	return obs
}

// Evaluate folds one observation into the controller state and runs any
// resulting promotion or alert. Management calls use a context detached
// from ctx's cancellation, bounded by the drain timeout, and run without the
// state lock so Snapshot keeps answering during a promotion.
func (c *Controller) Evaluate(ctx context.Context, obs Observation) Decision {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	c.mu.Lock()
	d, promote := c.evaluateLocked(obs)
	if promote {
		c.promoting = true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if promote {
		c.publish(snap)
		d = c.promote(ctx, d)

		c.mu.Lock()
		c.promoting = false
		snap = c.snapshotLocked()
		c.mu.Unlock()
	}
	c.publish(snap)
	return d
}

func (c *Controller) publish(snap Snapshot) {
	if c.listener != nil {
		c.listener(snap)
	}
}

// evaluateLocked applies the state table. promote is true when the caller
// must run the promotion protocol.
func (c *Controller) evaluateLocked(obs Observation) (d Decision, promote bool) {
	c.ticks++
	c.last = obs
	c.lastTick = c.clock.Now()

	primary, standby := c.pair.Primary(), c.pair.Standby()
	primaryUp, standbyUp := c.reachable(obs, primary), c.reachable(obs, standby)
	action := ActionNone

	switch {
	case primaryUp && standbyUp:
		c.clearOutage()
		c.failures = 0

	case !primaryUp && !standbyUp:
		c.failures++
		c.log.Warn("both nodes unreachable",
			zap.Uint("failures", c.failures),
			zap.Uint("threshold", c.cfg.FailureThreshold))
		if !c.outageAlerted && c.failures >= c.cfg.FailureThreshold {
			c.raiseOutage()
			action = ActionAlert
		}

	case primaryUp:
		c.clearOutage()
		c.failures = 0
		c.log.Debug("standby unreachable", zap.String("standby", standby.Hostname))

	default:
		c.clearOutage()
		c.failures++
		c.log.Warn("primary unreachable",
			zap.String("primary", primary.Hostname),
			zap.Uint("failures", c.failures),
			zap.Uint("threshold", c.cfg.FailureThreshold))
		promote = c.failures >= c.cfg.FailureThreshold
	}

	c.metrics.SetConsecutiveFailures(c.failures)
	c.metrics.SetOutage(!primaryUp && !standbyUp)

	return Decision{
		Tick:          c.ticks,
		Observation:   obs,
		Action:        action,
		Primary:       primary.Hostname,
		Failures:      c.failures,
		OutageAlerted: c.outageAlerted,
	}, promote
}

func (c *Controller) reachable(obs Observation, n *cluster.Node) bool {
	if n == c.pair.A() {
		return obs.AReachable
	}
	return obs.BReachable
}

// raiseOutage hands one alert to the alerter and latches until a node is
// reachable again.
func (c *Controller) raiseOutage() {
	c.outageAlerted = true
	c.log.Error("both nodes unreachable, alerting operators",
		zap.Uint("failures", c.failures),
		zap.Strings("recipients", c.cfg.AlertRecipients))
	c.record(journal.KindOutageAlert, "", fmt.Sprintf("both nodes unreachable for %d ticks", c.failures))

	if c.alerter == nil {
		return
	}
	c.alerter.Notify(alert.Alert{
		Subject:    c.cfg.AlertSubject,
		Body:       c.cfg.AlertBody,
		Recipients: c.cfg.AlertRecipients,
		Time:       c.clock.Now(),
	})
}

func (c *Controller) clearOutage() {
	if !c.outageAlerted {
		return
	}
	c.outageAlerted = false
	c.log.Info("outage over, at least one node reachable")
	c.record(journal.KindOutageRecovered, "", "at least one node reachable again")
}

// setTelemetryPaused updates the flag under the state lock.
func (c *Controller) setTelemetryPaused(paused bool) {
	c.mu.Lock()
	c.telemetryPaused = paused
	c.mu.Unlock()
}

// promote runs the promotion protocol for the tick described by d and
// returns d with its action and roles filled in. Called with evalMu held
// and mu released; only this goroutine changes the pair meanwhile.
//
// The pause goes to a primary already presumed down, so it gets at most
// PauseTimeout of the drain budget. The rest is left for promote and resume.
func (c *Controller) promote(ctx context.Context, d Decision) Decision {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DrainTimeout)
	defer cancel()

	old, next := c.pair.Primary(), c.pair.Standby()
	c.log.Warn("promoting standby",
		zap.String("from", old.Hostname),
		zap.String("to", next.Hostname),
		zap.Uint("failures", d.Failures))
	c.record(journal.KindPromotionStarted, next.Hostname,
		fmt.Sprintf("primary %s unreachable for %d ticks", old.Hostname, d.Failures))

	pauseCtx, cancelPause := context.WithTimeout(ctx, c.cfg.PauseTimeout)
	out := old.Link.PauseTelemetry(pauseCtx)
	cancelPause()
	if out.OK() {
		c.setTelemetryPaused(true)
		c.record(journal.KindTelemetryPaused, old.Hostname, "telemetry paused before promotion")
	} else {
		// the primary is presumed down, so this is expected
		c.log.Warn("telemetry pause failed, continuing with promotion",
			zap.String("node", old.Hostname),
			zap.Stringer("outcome", out))
		c.record(journal.KindTelemetryError, old.Hostname, "pause: "+out.String())
	}

	out = next.Link.PromoteToPrimary(ctx)
	if !out.OK() {
		c.mu.Lock()
		c.failedAttempts++
		c.mu.Unlock()
		c.metrics.RecordPromotion(false)
		c.log.Error("promotion failed, roles unchanged",
			zap.String("node", next.Hostname),
			zap.Stringer("outcome", out),
			zap.String("policy", string(c.cfg.AbandonPolicy)))
		c.record(journal.KindPromotionFailed, next.Hostname, out.String())
		c.abandon(ctx, old)
		d.Action = ActionPromotionFailed
		return d
	}

	c.mu.Lock()
	c.pair.Swap()
	c.failures = 0
	c.promotions++
	c.mu.Unlock()
	c.metrics.SetConsecutiveFailures(0)
	c.metrics.RecordPromotion(true)
	c.metrics.SetPrimary(next.Hostname, old.Hostname, next.Hostname)
	c.log.Info("promotion succeeded",
		zap.String("primary", next.Hostname),
		zap.String("standby", old.Hostname))
	c.record(journal.KindPromotionSucceeded, next.Hostname, "now primary")
	if c.journal != nil {
		if err := c.journal.SavePrimary(next.Hostname); err != nil {
			c.log.Warn("failed to persist primary", zap.Error(err))
		}
	}

	if out := next.Link.ResumeTelemetry(ctx); out.OK() {
		c.setTelemetryPaused(false)
		c.record(journal.KindTelemetryResumed, next.Hostname, "telemetry resumed on new primary")
	} else {
		c.log.Error("telemetry resume failed on new primary",
			zap.String("node", next.Hostname),
			zap.Stringer("outcome", out))
		c.record(journal.KindTelemetryError, next.Hostname, "resume: "+out.String())
	}

	d.Action = ActionPromoted
	d.Primary = next.Hostname
	d.Failures = 0
	return d
}

// abandon applies the configured policy after a failed promotion.
func (c *Controller) abandon(ctx context.Context, original *cluster.Node) {
	if c.cfg.AbandonPolicy == AbandonKeepPaused {
		c.log.Warn("telemetry left paused until a promotion succeeds", zap.String("node", original.Hostname))
		return
	}

	if out := original.Link.ResumeTelemetry(ctx); out.OK() {
		c.setTelemetryPaused(false)
		c.record(journal.KindTelemetryResumed, original.Hostname, "telemetry resumed after failed promotion")
	} else {
		c.log.Warn("telemetry resume failed on original primary",
			zap.String("node", original.Hostname),
			zap.Stringer("outcome", out))
		c.record(journal.KindTelemetryError, original.Hostname, "resume: "+out.String())
	}
}

func (c *Controller) record(kind journal.Kind, node, msg string) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Record(journal.Event{Time: c.clock.Now(), Kind: kind, Node: node, Message: msg}); err != nil {
		c.log.Warn("failed to record event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
