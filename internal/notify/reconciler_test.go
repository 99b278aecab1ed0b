package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-driver/internal/models"
	"go.uber.org/goleak"
)

type countingRefresher struct{ calls int32 }

func (c *countingRefresher) RequestRefresh() { atomic.AddInt32(&c.calls, 1) }
func (c *countingRefresher) count() int     { return int(atomic.LoadInt32(&c.calls)) }

// MockFeedStore is a mock implementation of FeedStore
type MockFeedStore struct {
	mock.Mock
}

func (m *MockFeedStore) List(ctx context.Context, driverID string) ([]models.NotificationEvent, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.NotificationEvent), args.Error(1)
}

func (m *MockFeedStore) Save(ctx context.Context, driverID string, ev models.NotificationEvent) error {
	args := m.Called(ctx, driverID, ev)
	return args.Error(0)
}

func (m *MockFeedStore) MarkRead(ctx context.Context, driverID, eventID string) error {
	args := m.Called(ctx, driverID, eventID)
	return args.Error(0)
}

func (m *MockFeedStore) Delete(ctx context.Context, driverID, eventID string) error {
	args := m.Called(ctx, driverID, eventID)
	return args.Error(0)
}

// memFeedStore behaves like the Mongo collection: Save only inserts when
// absent, MarkRead and Delete match nothing for an unknown ID. When saveGate
// is set, Save signals saving and blocks until the gate is closed.
type memFeedStore struct {
	mu     sync.Mutex
	events map[string]models.NotificationEvent

	saveGate chan struct{}
	saving   chan struct{}
}

func newMemFeedStore() *memFeedStore {
	return &memFeedStore{events: make(map[string]models.NotificationEvent)}
}

func (m *memFeedStore) List(ctx context.Context, driverID string) ([]models.NotificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.NotificationEvent, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out, nil
}

func (m *memFeedStore) Save(ctx context.Context, driverID string, ev models.NotificationEvent) error {
	if m.saveGate != nil {
		m.saving <- struct{}{}
		<-m.saveGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.ID]; !ok {
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *memFeedStore) MarkRead(ctx context.Context, driverID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok {
		ev.Read = true
		m.events[eventID] = ev
	}
	return nil
}

func (m *memFeedStore) Delete(ctx context.Context, driverID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}

// ingestBlocked runs Ingest in the background and returns once its Save is
// blocked. The returned func opens the gate and waits for Ingest.
func ingestBlocked(t *testing.T, r *Reconciler, store *memFeedStore, ev models.NotificationEvent) func() {
	t.Helper()
	store.saveGate = make(chan struct{})
	store.saving = make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Ingest(context.Background(), ev)
		close(done)
	}()
	select {
	case <-store.saving:
	case <-time.After(2 * time.Second):
		t.Fatal("Save was never called")
	}
	return func() {
		close(store.saveGate)
		<-done
	}
}

func event(id string, typ models.NotificationType) models.NotificationEvent {
	return models.NotificationEvent{ID: id, Type: typ, Timestamp: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func TestReconciler_IngestDeduplicates(t *testing.T) {
	refresher := &countingRefresher{}
	r := NewReconciler("D1", nil, refresher)
	ctx := context.Background()

	assert.True(t, r.Ingest(ctx, event("N1", models.NotificationTripAssigned)))
	assert.False(t, r.Ingest(ctx, event("N1", models.NotificationTripAssigned)))

	assert.Len(t, r.Feed(), 1)
	assert.Equal(t, 1, refresher.count(), "refresh fires exactly once")
	assert.Equal(t, 1, r.Stats().Duplicates)
}

func TestReconciler_FeedHasEachIDOnce(t *testing.T) {
	r := NewReconciler("D1", nil, nil)
	ctx := context.Background()

	ids := []string{"a", "b", "a", "c", "b", "b", "d", "a"}
	for _, id := range ids {
		r.Ingest(ctx, event(id, models.NotificationOther))
	}

	feed := r.Feed()
	seen := make(map[string]int)
	for _, ev := range feed {
		seen[ev.ID]++
	}
	assert.Len(t, feed, 4)
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s", id)
	}
	// newest first in delivery order
	assert.Equal(t, []string{"d", "c", "b", "a"}, feedIDs(feed))
}

func TestReconciler_RefreshTriggers(t *testing.T) {
	tests := []struct {
		typ     models.NotificationType
		trigger bool
	}{
		{models.NotificationTripAssigned, true},
		{models.NotificationTripStatusChange, true},
		{models.NotificationTripStarted, false},
		{models.NotificationTripCompleted, false},
		{models.NotificationBreakdownReported, false},
		{models.NotificationOther, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			refresher := &countingRefresher{}
			r := NewReconciler("D1", nil, refresher)
			r.Ingest(context.Background(), event("N1", tt.typ))
			if tt.trigger {
				assert.Equal(t, 1, refresher.count())
			} else {
				assert.Equal(t, 0, refresher.count())
			}
		})
	}
}

func TestReconciler_IngestMarksUnread(t *testing.T) {
	r := NewReconciler("D1", nil, nil)
	ev := event("N1", models.NotificationOther)
	ev.Read = true
	r.Ingest(context.Background(), ev)

	assert.Equal(t, 1, r.Unread())
}

func TestReconciler_IngestWithoutIDIsParseFailure(t *testing.T) {
	refresher := &countingRefresher{}
	r := NewReconciler("D1", nil, refresher)

	assert.False(t, r.Ingest(context.Background(), models.NotificationEvent{Type: models.NotificationTripAssigned}))
	assert.Empty(t, r.Feed())
	assert.Equal(t, 1, r.ParseFailures())
	assert.Equal(t, 0, refresher.count())
}

func TestReconciler_IngestRaw(t *testing.T) {
	refresher := &countingRefresher{}
	r := NewReconciler("D1", nil, refresher)
	ctx := context.Background()

	assert.True(t, r.IngestRaw(ctx, []byte(`{"id":"N1","type":"trip-assigned","data":{"trip_id":"R1","screen":"trip-details"}}`)))
	assert.False(t, r.IngestRaw(ctx, []byte(`{not json`)))
	assert.False(t, r.IngestRaw(ctx, []byte(`{"type":"trip-assigned"}`)))

	assert.Len(t, r.Feed(), 1)
	assert.Equal(t, 2, r.ParseFailures())
	assert.Equal(t, 1, refresher.count())
	assert.Equal(t, "R1", r.Feed()[0].Payload.TripID)
}

func TestReconciler_AcknowledgeAndDismiss(t *testing.T) {
	store := new(MockFeedStore)
	store.On("Save", mock.Anything, "D1", mock.Anything).Return(nil)
	store.On("MarkRead", mock.Anything, "D1", "N1").Return(nil)
	store.On("Delete", mock.Anything, "D1", "N2").Return(nil)

	r := NewReconciler("D1", store, nil)
	ctx := context.Background()
	r.Ingest(ctx, event("N1", models.NotificationOther))
	r.Ingest(ctx, event("N2", models.NotificationOther))

	r.Acknowledge(ctx, "N1")
	ev, ok := r.Get("N1")
	require.True(t, ok)
	assert.True(t, ev.Read)
	assert.Equal(t, 1, r.Unread())

	r.Dismiss(ctx, "N2")
	assert.Equal(t, []string{"N1"}, feedIDs(r.Feed()))

	// absent ids are no-ops and never reach the store
	r.Acknowledge(ctx, "missing")
	r.Dismiss(ctx, "missing")
	r.Dismiss(ctx, "N2")

	store.AssertNumberOfCalls(t, "Save", 2)
	store.AssertNumberOfCalls(t, "MarkRead", 1)
	store.AssertNumberOfCalls(t, "Delete", 1)
}

func TestReconciler_DismissDuringSaveStaysDismissed(t *testing.T) {
	store := newMemFeedStore()
	r := NewReconciler("D1", store, nil)
	ctx := context.Background()

	release := ingestBlocked(t, r, store, event("N1", models.NotificationOther))
	r.Dismiss(ctx, "N1")
	assert.Empty(t, r.Feed())
	release()

	restarted := NewReconciler("D1", store, nil)
	require.NoError(t, restarted.Load(ctx))
	assert.Empty(t, restarted.Feed())
}

func TestReconciler_AcknowledgeDuringSaveStaysRead(t *testing.T) {
	store := newMemFeedStore()
	r := NewReconciler("D1", store, nil)
	ctx := context.Background()

	release := ingestBlocked(t, r, store, event("N1", models.NotificationOther))
	r.Acknowledge(ctx, "N1")
	release()

	restarted := NewReconciler("D1", store, nil)
	require.NoError(t, restarted.Load(ctx))
	ev, ok := restarted.Get("N1")
	require.True(t, ok)
	assert.True(t, ev.Read)
	assert.Equal(t, 0, restarted.Unread())
}

func TestReconciler_DismissedIDCanArriveAgain(t *testing.T) {
	r := NewReconciler("D1", nil, nil)
	ctx := context.Background()

	r.Ingest(ctx, event("N1", models.NotificationOther))
	r.Dismiss(ctx, "N1")
	assert.True(t, r.Ingest(ctx, event("N1", models.NotificationOther)))
	assert.Len(t, r.Feed(), 1)
}

func TestReconciler_StoreErrorsAreSwallowed(t *testing.T) {
	store := new(MockFeedStore)
	store.On("Save", mock.Anything, "D1", mock.Anything).Return(errors.New("disk full"))
	store.On("MarkRead", mock.Anything, "D1", "N1").Return(errors.New("disk full"))
	store.On("Delete", mock.Anything, "D1", "N1").Return(errors.New("disk full"))

	r := NewReconciler("D1", store, nil)
	ctx := context.Background()

	assert.True(t, r.Ingest(ctx, event("N1", models.NotificationOther)))
	r.Acknowledge(ctx, "N1")
	r.Dismiss(ctx, "N1")
	assert.Empty(t, r.Feed())
	store.AssertExpectations(t)
}

func TestReconciler_Load(t *testing.T) {
	older := event("S1", models.NotificationTripAssigned)
	older.Timestamp = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	older.Read = true
	newer := event("S2", models.NotificationTripStatusChange)
	newer.Timestamp = time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)

	store := new(MockFeedStore)
	store.On("List", mock.Anything, "D1").Return([]models.NotificationEvent{older, newer, {}}, nil)
	store.On("Save", mock.Anything, "D1", mock.Anything).Return(nil)

	refresher := &countingRefresher{}
	r := NewReconciler("D1", store, refresher)
	ctx := context.Background()
	r.Ingest(ctx, event("S2", models.NotificationTripStatusChange))

	require.NoError(t, r.Load(ctx))

	assert.Equal(t, []string{"S2", "S1"}, feedIDs(r.Feed()))
	ev, _ := r.Get("S1")
	assert.True(t, ev.Read, "stored read flag is kept")
	assert.Equal(t, 1, refresher.count(), "loading stored events does not refresh")
	assert.Equal(t, 1, r.ParseFailures())
}

func TestReconciler_LoadError(t *testing.T) {
	store := new(MockFeedStore)
	store.On("List", mock.Anything, "D1").Return(nil, errors.New("unavailable"))

	r := NewReconciler("D1", store, nil)
	assert.Error(t, r.Load(context.Background()))
	assert.Empty(t, r.Feed())
}

func TestReconciler_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	refresher := &countingRefresher{}
	r := NewReconciler("D1", nil, refresher)
	deliveries := make(chan []byte, 3)
	deliveries <- []byte(`{"id":"N1","type":"trip_assigned"}`)
	deliveries <- []byte(`{"id":"N1","type":"trip_assigned"}`)
	deliveries <- []byte(`{"id":"N2","type":"trip_completed"}`)
	close(deliveries)

	require.NoError(t, r.Run(context.Background(), deliveries))
	assert.Equal(t, []string{"N2", "N1"}, feedIDs(r.Feed()))
	assert.Equal(t, 1, refresher.count())
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewReconciler("D1", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan []byte)) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNavigationTarget(t *testing.T) {
	tests := []struct {
		name    string
		payload models.NotificationPayload
		want    Target
		ok      bool
	}{
		{"screen and trip", models.NotificationPayload{Screen: "trip-map", TripID: "R1"}, Target{Screen: "trip-map", TripID: "R1"}, true},
		{"screen only", models.NotificationPayload{Screen: "notifications"}, Target{Screen: "notifications"}, true},
		{"trip only", models.NotificationPayload{TripID: "R1"}, Target{Screen: ScreenTripDetails, TripID: "R1"}, true},
		{"neither", models.NotificationPayload{}, Target{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NavigationTarget(models.NotificationEvent{ID: "N1", Payload: tt.payload})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func feedIDs(feed []models.NotificationEvent) []string {
	ids := make([]string, 0, len(feed))
	for _, ev := range feed {
		ids = append(ids, ev.ID)
	}
	return ids
}
