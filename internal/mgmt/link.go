package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/drswing/internal/cluster"
	"github.com/dreamware/drswing/internal/metrics"
)

const (
	PausePath       = "/dataservice/disasterrecovery/pause"
	UnpausePath     = "/dataservice/disasterrecovery/unpause"
	ActivatePath    = "/dataservice/disasterrecovery/activate"
	ClusterInfoPath = "/dataservice/disasterrecovery/clusterInfo"
)

// Operation names used in logs and metrics.
const (
	OpPause   = "pause_telemetry"
	OpResume  = "resume_telemetry"
	OpPromote = "promote_to_primary"
)

// RetryPolicy bounds retries of transport failures. Rejections are never
// retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes three attempts over roughly a second and a half.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Budget is the longest one call can take under p when every attempt runs
// into requestTimeout and every backoff wait draws its maximum.
func (p RetryPolicy) Budget(requestTimeout time.Duration) time.Duration {
	attempts := max(p.MaxAttempts, 1)
	total := time.Duration(attempts) * requestTimeout

	interval := float64(p.InitialInterval)
	for i := 1; i < attempts; i++ {
		wait := min(interval, float64(p.MaxInterval))
		total += time.Duration(wait * (1 + backoff.DefaultRandomizationFactor))
		interval *= backoff.DefaultMultiplier
	}
	return total
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// LinkOptions configures NewLink.
type LinkOptions struct {
	RequestTimeout time.Duration
	Retry          RetryPolicy
	Log            *zap.Logger
	Metrics        *metrics.Recorder
}

// Link implements cluster.Link over an authenticated Session.
type Link struct {
	hostname string
	session  *Session
	timeout  time.Duration
	retry    RetryPolicy
	log      *zap.Logger
	metrics  *metrics.Recorder
}

var _ cluster.Link = (*Link)(nil)

// NewLink returns the management link for the node named hostname.
func NewLink(hostname string, s *Session, opts LinkOptions) *Link {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Link{
		hostname: hostname,
		session:  s,
		timeout:  opts.RequestTimeout,
		retry:    opts.Retry,
		log:      opts.Log.With(zap.String("node", hostname)),
		metrics:  opts.Metrics,
	}
}

func (l *Link) PauseTelemetry(ctx context.Context) cluster.Outcome {
	return l.call(ctx, OpPause, PausePath)
}

func (l *Link) ResumeTelemetry(ctx context.Context) cluster.Outcome {
	return l.call(ctx, OpResume, UnpausePath)
}

func (l *Link) PromoteToPrimary(ctx context.Context) cluster.Outcome {
	return l.call(ctx, OpPromote, ActivatePath)
}

// call runs one POST operation, retrying transport failures per l.retry.
func (l *Link) call(ctx context.Context, op, path string) cluster.Outcome {
	var out cluster.Outcome
	attempt := 0

	_ = backoff.Retry(func() error {
		attempt++
		out = l.once(ctx, path)
		if !out.Retryable() {
			return nil
		}
		l.log.Warn("management call transport failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.String("reason", string(out.Reason)),
			zap.Error(out.Err))
		if out.Err == nil {
			return errors.New(string(out.Reason))
		}
		return out.Err
	}, l.retry.backoff(ctx))

	l.report(op, out)
	return out
}

func (l *Link) once(ctx context.Context, path string) cluster.Outcome {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.session.do(ctx, http.MethodPost, path)
	if err != nil {
		return cluster.Classify(0, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return cluster.Classify(resp.StatusCode, nil)
}

func (l *Link) report(op string, out cluster.Outcome) {
	l.metrics.RecordManagementCall(l.hostname, op, out.Kind.String())

	switch out.Kind {
	case cluster.Success:
		l.log.Info("management call succeeded", zap.String("operation", op))
	case cluster.Rejected:
		l.log.Error("management call rejected",
			zap.String("operation", op),
			zap.Int("status", out.StatusCode),
			zap.String("reason", string(out.Reason)),
			zap.String("hint", out.Reason.Hint()))
	default:
		l.log.Error("management call failed",
			zap.String("operation", op),
			zap.String("reason", string(out.Reason)),
			zap.String("hint", out.Reason.Hint()),
			zap.Error(out.Err))
	}
}

// ClusterInfo is the cluster's own view of which members are primary.
type ClusterInfo struct {
	Primary   []Member `json:"primary"`
	Secondary []Member `json:"secondary"`
}

// Member is one entry of ClusterInfo.
type Member struct {
	HostName string `json:"host-name"`
	IP       string `json:"ip,omitempty"`
}

// PrimaryHostname returns the first primary member's hostname.
func (ci ClusterInfo) PrimaryHostname() (string, bool) {
	if len(ci.Primary) == 0 || ci.Primary[0].HostName == "" {
		return "", false
	}
	return ci.Primary[0].HostName, true
}

// ClusterInfo fetches the disaster-recovery cluster layout.
func (s *Session) ClusterInfo(ctx context.Context) (ClusterInfo, error) {
	resp, err := s.do(ctx, http.MethodGet, ClusterInfoPath)
	if err != nil {
		return ClusterInfo{}, fmt.Errorf("cluster info: %s", cluster.Classify(0, err))
	}
	defer resp.Body.Close()

	if out := cluster.Classify(resp.StatusCode, nil); !out.OK() {
		return ClusterInfo{}, fmt.Errorf("cluster info: %s", out)
	}

	var body struct {
		ClusterInfo ClusterInfo `json:"clusterInfo"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ClusterInfo{}, fmt.Errorf("decode cluster info: %w", err)
	}
	return body.ClusterInfo, nil
}
