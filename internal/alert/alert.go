// Package alert delivers operator notifications. The failover controller
// hands alerts to a Dispatcher and never waits on delivery.
package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Alert is a single notification.
type Alert struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Recipients []string  `json:"recipients,omitempty"`
	Time       time.Time `json:"time"`
}

// Sink delivers an alert over some transport.
type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a Alert) error

func (f SinkFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogSink writes the alert to the log and nothing else.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Notify(_ context.Context, a Alert) error {
	s.Log.Error("operator alert",
		zap.String("subject", a.Subject),
		zap.Strings("recipients", a.Recipients),
		zap.String("body", a.Body))
	return nil
}

// Multi fans an alert out to every sink and combines their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var err error
	for i, s := range m {
		if e := s.Notify(ctx, a); e != nil {
			err = multierr.Append(err, fmt.Errorf("sink %d: %w", i, e))
		}
	}
	return err
}

// NormalizeRecipients sorts and de-duplicates addresses, dropping blanks.
func NormalizeRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if r != "" {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
