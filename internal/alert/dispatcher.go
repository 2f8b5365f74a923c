package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/drswing/internal/metrics"
)

// Dispatcher queues alerts and delivers them on a background goroutine so
// the caller never blocks. Failed deliveries are logged and not retried.
type Dispatcher struct {
	sink    Sink
	log     *zap.Logger
	metrics *metrics.Recorder
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan Alert
	done   chan struct{}
}

// DispatcherOptions configures NewDispatcher.
type DispatcherOptions struct {
	QueueSize       int           // pending alerts before new ones are dropped (default 16)
	DeliveryTimeout time.Duration // bound on a single Notify call (default 30s)
	Log             *zap.Logger
	Metrics         *metrics.Recorder
}

// NewDispatcher starts the delivery goroutine. Call Close to stop it.
func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 30 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	d := &Dispatcher{
		sink:    sink,
		log:     opts.Log,
		metrics: opts.Metrics,
		timeout: opts.DeliveryTimeout,
		queue:   make(chan Alert, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues a for delivery. It returns false when the alert was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Notify(a Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.log.Error("alert dropped: dispatcher closed", zap.String("subject", a.Subject))
		d.metrics.RecordAlert("dropped")
		return false
	}
	select {
	case d.queue <- a:
		return true
	default:
		d.log.Error("alert dropped: queue full", zap.String("subject", a.Subject))
		d.metrics.RecordAlert("dropped")
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for a := range d.queue {
		d.deliver(a)
	}
}

func (d *Dispatcher) deliver(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Notify(ctx, a); err != nil {
		d.log.Error("alert delivery failed", zap.String("subject", a.Subject), zap.Error(err))
		d.metrics.RecordAlert("failed")
		return
	}
	d.log.Info("alert delivered", zap.String("subject", a.Subject), zap.Strings("recipients", a.Recipients))
	d.metrics.RecordAlert("delivered")
}

// Close stops accepting alerts and waits for queued ones to be delivered or
// for ctx to end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
