package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-driver/internal/models"
)

// Refresher is woken when an event means the server-side shift binding
// changed. *shift.Coordinator implements it.
type Refresher interface {
	RequestRefresh()
}

// FeedStore is the local storage behind the notification feed.
// *db.MongoNotificationCollection implements it.
type FeedStore interface {
	List(ctx context.Context, driverID string) ([]models.NotificationEvent, error)
	Save(ctx context.Context, driverID string, ev models.NotificationEvent) error
	MarkRead(ctx context.Context, driverID, eventID string) error
	Delete(ctx context.Context, driverID, eventID string) error
}

// Stats are the reconciler's observability counters.
type Stats struct {
	Ingested        int `json:"ingested"`
	Duplicates      int `json:"duplicates"`
	ParseFailures   int `json:"parse_failures"`
	RefreshTriggers int `json:"refresh_triggers"`
}

// Reconciler keeps the driver's notification feed, newest first and
// deduplicated by event ID, and wakes the refresher for events that change
// the shift binding.
type Reconciler struct {
	driverID  string
	store     FeedStore
	refresher Refresher
	logger    *log.Entry
	now       func() time.Time

	mu      sync.Mutex
	feed    []models.NotificationEvent
	index   map[string]struct{}
	pending map[string]*pendingSave
	stats   Stats
}

// pendingSave records what happened to an event while its store.Save was
// still running. The store write for a dismiss or acknowledge is issued
// by Ingest once Save returns, so it always lands after the insert.
type pendingSave struct {
	read      bool
	dismissed bool
}

// NewReconciler creates a reconciler. store and refresher may be nil.
func NewReconciler(driverID string, store FeedStore, refresher Refresher) *Reconciler {
	return &Reconciler{
		driverID:  driverID,
		store:     store,
		refresher: refresher,
		logger:    log.WithFields(log.Fields{"component": "notify", "driver_id": driverID}),
		now:       time.Now,
		index:     make(map[string]struct{}),
		pending:   make(map[string]*pendingSave),
	}
}

// Ingest adds ev to the top of the feed unless an event with the same ID is
// already present. It reports whether the event was new. Redelivered events
// have no side effects.
func (r *Reconciler) Ingest(ctx context.Context, ev models.NotificationEvent) bool {
	if ev.ID == "" {
		r.countParseFailure(ErrParseFailure, "event without id")
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	ev.Read = false

	r.mu.Lock()
	if _, seen := r.index[ev.ID]; seen {
		r.stats.Duplicates++
		r.mu.Unlock()
		r.logger.WithField("event_id", ev.ID).Debug("Duplicate notification ignored")
		return false
	}
	r.index[ev.ID] = struct{}{}
	var p *pendingSave
	if r.store != nil {
		p = &pendingSave{}
		r.pending[ev.ID] = p
	}
	r.feed = append(r.feed, models.NotificationEvent{})
	copy(r.feed[1:], r.feed)
	r.feed[0] = ev
	r.stats.Ingested++
	trigger := ev.Type.TriggersRefresh() && r.refresher != nil
	if trigger {
		r.stats.RefreshTriggers++
	}
	r.mu.Unlock()

	r.logger.WithFields(log.Fields{"event_id": ev.ID, "type": ev.Type}).Info("Notification received")

	if p != nil {
		r.save(ctx, ev, p)
	}
	if trigger {
		r.refresher.RequestRefresh()
	}
	return true
}

func (r *Reconciler) save(ctx context.Context, ev models.NotificationEvent, p *pendingSave) {
	if err := r.store.Save(ctx, r.driverID, ev); err != nil {
		r.logger.WithError(err).WithField("event_id", ev.ID).Error("Failed to store notification")
	}

	r.mu.Lock()
	if r.pending[ev.ID] == p {
		delete(r.pending, ev.ID)
	}
	read, dismissed := p.read, p.dismissed
	r.mu.Unlock()

	switch {
	case dismissed:
		r.storeDelete(ctx, ev.ID)
	case read:
		r.storeMarkRead(ctx, ev.ID)
	}
}

func (r *Reconciler) storeMarkRead(ctx context.Context, eventID string) {
	if err := r.store.MarkRead(ctx, r.driverID, eventID); err != nil {
		r.logger.WithError(err).WithField("event_id", eventID).Error("Failed to mark notification as read")
	}
}

func (r *Reconciler) storeDelete(ctx context.Context, eventID string) {
	if err := r.store.Delete(ctx, r.driverID, eventID); err != nil {
		r.logger.WithError(err).WithField("event_id", eventID).Error("Failed to dismiss notification")
	}
}

// IngestRaw decodes a push payload and ingests it. Malformed payloads are
// counted as parse failures and dropped.
func (r *Reconciler) IngestRaw(ctx context.Context, raw []byte) bool {
	ev, err := Decode(raw, r.now())
	if err != nil {
		r.countParseFailure(err, "undecodable payload")
		return false
	}
	return r.Ingest(ctx, ev)
}

func (r *Reconciler) countParseFailure(err error, msg string) {
	r.mu.Lock()
	r.stats.ParseFailures++
	r.mu.Unlock()
	r.logger.WithError(err).Debug("Dropping notification: " + msg)
}

// Acknowledge marks the event read. Unknown IDs are ignored; the event may
// have been dismissed concurrently.
func (r *Reconciler) Acknowledge(ctx context.Context, eventID string) {
	r.mu.Lock()
	found := false
	for i := range r.feed {
		if r.feed[i].ID == eventID {
			r.feed[i].Read = true
			found = true
			break
		}
	}
	p, saving := r.pending[eventID]
	if found && saving {
		p.read = true
	}
	r.mu.Unlock()

	if !found || saving || r.store == nil {
		return
	}
	r.storeMarkRead(ctx, eventID)
}

// Dismiss removes the event from the feed. Unknown IDs are ignored.
func (r *Reconciler) Dismiss(ctx context.Context, eventID string) {
	r.mu.Lock()
	found := false
	for i := range r.feed {
		if r.feed[i].ID == eventID {
			r.feed = append(r.feed[:i], r.feed[i+1:]...)
			delete(r.index, eventID)
			found = true
			break
		}
	}
	p, saving := r.pending[eventID]
	if found && saving {
		p.dismissed = true
		delete(r.pending, eventID)
	}
	r.mu.Unlock()

	if !found || saving || r.store == nil {
		return
	}
	r.storeDelete(ctx, eventID)
}

// Load merges the stored feed into memory. Stored events keep their read
// flag and never wake the refresher.
func (r *Reconciler) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	stored, err := r.store.List(ctx, r.driverID)
	if err != nil {
		r.logger.WithError(err).Error("Failed to load stored notifications")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, ev := range stored {
		if ev.ID == "" {
			r.stats.ParseFailures++
			continue
		}
		if _, seen := r.index[ev.ID]; seen {
			continue
		}
		r.index[ev.ID] = struct{}{}
		r.feed = append(r.feed, ev)
		added++
	}
	sort.SliceStable(r.feed, func(i, j int) bool {
		return r.feed[i].Timestamp.After(r.feed[j].Timestamp)
	})
	r.logger.WithField("loaded", added).Info("Stored notifications loaded")
	return nil
}

// Feed returns a copy of the feed, newest first.
func (r *Reconciler) Feed() []models.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NotificationEvent(nil), r.feed...)
}

// Get returns the feed entry with the given ID.
func (r *Reconciler) Get(eventID string) (models.NotificationEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.feed {
		if ev.ID == eventID {
			return ev, true
		}
	}
	return models.NotificationEvent{}, false
}

// Unread counts feed entries not yet acknowledged.
func (r *Reconciler) Unread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.feed {
		if !ev.Read {
			n++
		}
	}
	return n
}

// ParseFailures returns how many inbound payloads were dropped.
func (r *Reconciler) ParseFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.ParseFailures
}

// Stats returns a copy of the counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run ingests deliveries in order until ctx is done or the channel closes.
func (r *Reconciler) Run(ctx context.Context, deliveries <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return nil
			}
			r.IngestRaw(ctx, raw)
		}
	}
}
