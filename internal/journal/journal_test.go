package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/drswing/internal/storage"
)

func stepClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecordFillsIDAndTime(t *testing.T) {
	j := New(storage.NewMemoryStore(), stepClock(time.Unix(1700000000, 0)))

	ev, err := j.Record(Event{Kind: KindOutageAlert, Message: "both unreachable"})
	require.NoError(t, err)

	_, err = uuid.Parse(ev.ID)
	assert.NoError(t, err)
	assert.Equal(t, time.Unix(1700000001, 0), ev.Time)
}

// TestEventsChronological verifies events come back oldest first and limit
// keeps the newest.
func TestEventsChronological(t *testing.T) {
	store, err := storage.NewBadgerStore("")
	require.NoError(t, err)
	defer store.Close()

	j := New(store, stepClock(time.Unix(1700000000, 0)))
	kinds := []Kind{KindPromotionStarted, KindTelemetryPaused, KindPromotionSucceeded, KindTelemetryResumed}
	for _, k := range kinds {
		_, err := j.Record(Event{Kind: k, Node: "heidi"})
		require.NoError(t, err)
	}

	all, err := j.Events(0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, ev := range all {
		assert.Equal(t, kinds[i], ev.Kind)
	}

	last, err := j.Events(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, KindPromotionSucceeded, last[0].Kind)
	assert.Equal(t, KindTelemetryResumed, last[1].Kind)
}

func TestPrimaryRoundTrip(t *testing.T) {
	j := New(storage.NewMemoryStore(), nil)

	_, ok, err := j.LoadPrimary()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.SavePrimary("heidi"))
	host, ok, err := j.LoadPrimary()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "heidi", host)
}

// TestPrimaryDoesNotLeakIntoEvents guards the key layout.
func TestPrimaryDoesNotLeakIntoEvents(t *testing.T) {
	j := New(storage.NewMemoryStore(), nil)
	require.NoError(t, j.SavePrimary("ldc"))

	events, err := j.Events(0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRetentionPrunesOldest(t *testing.T) {
	store := storage.NewMemoryStore()
	j := New(store, stepClock(time.Unix(1700000000, 0)), WithMaxEvents(3))
	require.NoError(t, j.SavePrimary("heidi"))

	for i := 0; i < 5; i++ {
		_, err := j.Record(Event{Kind: KindTelemetryPaused, Message: string(rune('a' + i))})
		require.NoError(t, err)
	}

	events, err := j.Events(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].Message)
	assert.Equal(t, "e", events[2].Message)

	// three events plus the saved primary
	assert.Equal(t, 4, j.Stats().Keys)
	host, ok, err := j.LoadPrimary()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "heidi", host)
}

func TestRetentionDisabled(t *testing.T) {
	j := New(storage.NewMemoryStore(), nil, WithMaxEvents(0))
	for i := 0; i < DefaultMaxEvents+1; i++ {
		_, err := j.Record(Event{Kind: KindOutageAlert})
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultMaxEvents+1, j.Stats().Keys)
}

type stuckStore struct{ *storage.MemoryStore }

func (stuckStore) Delete(string) error { return errors.New("read-only") }

func TestRecordReportsPruneFailure(t *testing.T) {
	j := New(stuckStore{storage.NewMemoryStore()}, nil, WithMaxEvents(1))
	_, err := j.Record(Event{Kind: KindOutageAlert})
	require.NoError(t, err)

	_, err = j.Record(Event{Kind: KindOutageRecovered})
	assert.ErrorContains(t, err, "read-only")
}
