// Package journal records failover and alert events and remembers which node
// was last made primary, on top of a storage.Store.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/drswing/internal/storage"
)

// Kind classifies a journal event.
type Kind string

const (
	KindOutageAlert        Kind = "outage_alert"
	KindOutageRecovered    Kind = "outage_recovered"
	KindPromotionStarted   Kind = "promotion_started"
	KindPromotionSucceeded Kind = "promotion_succeeded"
	KindPromotionFailed    Kind = "promotion_failed"
	KindTelemetryPaused    Kind = "telemetry_paused"
	KindTelemetryResumed   Kind = "telemetry_resumed"
	KindTelemetryError     Kind = "telemetry_error"
)

// Event is one journal record.
type Event struct {
	ID      string    `json:"id" yaml:"id"`
	Time    time.Time `json:"time" yaml:"time"`
	Kind    Kind      `json:"kind" yaml:"kind"`
	Node    string    `json:"node,omitempty" yaml:"node,omitempty"`
	Message string    `json:"message" yaml:"message"`
}

const (
	eventPrefix = "event/"
	primaryKey  = "state/primary"
)

// DefaultMaxEvents is the retention used when none is configured.
const DefaultMaxEvents = 1000

// Journal is safe for concurrent use as long as the underlying store is.
type Journal struct {
	store     storage.Store
	now       func() time.Time
	maxEvents int

	pruneMu sync.Mutex
}

// Option configures a Journal.
type Option func(*Journal)

// WithMaxEvents keeps at most n events; older ones are deleted as new ones
// are recorded. n <= 0 disables pruning.
func WithMaxEvents(n int) Option {
	return func(j *Journal) { j.maxEvents = n }
}

// New wraps store. now may be nil, in which case time.Now is used.
func New(store storage.Store, now func() time.Time, opts ...Option) *Journal {
	if now == nil {
		now = time.Now
	}
	j := &Journal{store: store, now: now, maxEvents: DefaultMaxEvents}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record appends an event, filling in ID and Time when they are empty.
func (j *Journal) Record(ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = j.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("encode event: %w", err)
	}
	if err := j.store.Put(eventKey(ev), data); err != nil {
		return ev, fmt.Errorf("store event: %w", err)
	}
	if err := j.prune(); err != nil {
		return ev, err
	}
	return ev, nil
}

// prune deletes the oldest events beyond maxEvents.
func (j *Journal) prune() error {
	if j.maxEvents <= 0 {
		return nil
	}
	j.pruneMu.Lock()
	defer j.pruneMu.Unlock()

	keys, err := j.store.List(eventPrefix)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	for _, k := range keys[:max(len(keys)-j.maxEvents, 0)] {
		if err := j.store.Delete(k); err != nil {
			return fmt.Errorf("prune event %s: %w", k, err)
		}
	}
	return nil
}

// Stats reports the size of the underlying store.
func (j *Journal) Stats() storage.StoreStats {
	return j.store.Stats()
}

// Events returns up to limit of the most recent events, oldest first.
// limit <= 0 returns everything.
func (j *Journal) Events(limit int) ([]Event, error) {
	keys, err := j.store.List(eventPrefix)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	events := make([]Event, 0, len(keys))
	for _, k := range keys {
		data, err := j.store.Get(k)
		if errors.Is(err, storage.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read event %s: %w", k, err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", k, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// SavePrimary remembers hostname as the current primary.
func (j *Journal) SavePrimary(hostname string) error {
	return j.store.Put(primaryKey, []byte(hostname))
}

// LoadPrimary returns the last saved primary. ok is false when nothing has
// been saved yet.
func (j *Journal) LoadPrimary() (hostname string, ok bool, err error) {
	data, err := j.store.Get(primaryKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// keys sort chronologically; the id breaks ties within one nanosecond
func eventKey(ev Event) string {
	return fmt.Sprintf("%s%020d/%s", eventPrefix, ev.Time.UnixNano(), ev.ID)
}
