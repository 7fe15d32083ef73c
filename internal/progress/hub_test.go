package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubDeliversInOrder verifies every sink sees every event in emission order.
func TestHubDeliversInOrder(t *testing.T) {
	t.Parallel()

	a, b := newStubSink(), newStubSink()
	hub := NewHub(Config{Logger: zap.NewNop()}, a, nil, b)

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageDateStart))
	hub.Emit(sampleEvent(StageRunDone))

	for _, sink := range []*stubSink{a, b} {
		stages := sink.Stages()
		assert.Equal(t, []Stage{StageRunStart, StageDateStart, StageRunDone}, stages)
	}
	require.NoError(t, hub.Close(context.Background()))
	assert.Equal(t, 1, a.closeCount())
}

// TestHubDropsInvalidEvents ensures invalid payloads never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	evt := sampleEvent(StagePageStored)
	evt.Page = 0
	hub.Emit(evt)
	assert.Empty(t, sink.Stages())
}

// TestHubSinkErrorDoesNotStopOthers confirms a failing sink is isolated.
func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bad := newStubSink()
	bad.err = errors.New("topic not found")
	good := newStubSink()
	hub := NewHub(Config{}, bad, good)
	hub.Emit(sampleEvent(StageRunStart))
	assert.Len(t, good.Stages(), 1)
}

// TestHubCloseIsIdempotent ensures Close can be invoked repeatedly and later emits are ignored.
func TestHubCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleEvent(StageRunStart))
	assert.Empty(t, sink.Stages())
	assert.Equal(t, 1, sink.closeCount())

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, nilHub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageDateDone).Validate())

	evt := sampleEvent(StageDateDone)
	evt.Outcome = ""
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageDateStart)
	evt.Publisher = ""
	require.Error(t, evt.Validate())

	evt = sampleEvent("BOGUS")
	require.Error(t, evt.Validate())

	evt = sampleEvent(StageRunDone)
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())

	id := uuid.New()
	evt = sampleEvent(StageRunStart)
	evt.RunID = UUIDToBytes(id)
	assert.Equal(t, id, evt.RunUUID())
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:     UUIDToBytes(uuid.New()),
		TS:        time.Now().UTC(),
		Stage:     stage,
		Publisher: "TaKungPao",
		Date:      time.Date(2018, 6, 10, 0, 0, 0, 0, time.UTC),
		Page:      1,
		Outcome:   "ok",
	}
}

type stubSink struct {
	mu     sync.Mutex
	events []Event
	closed int
	err    error
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *stubSink) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Stage
	for _, evt := range s.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (s *stubSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
