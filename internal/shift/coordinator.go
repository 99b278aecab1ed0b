package shift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-driver/internal/gateway"
	"github.com/ukydev/fleet-driver/internal/models"
	"golang.org/x/sync/errgroup"
)

const defaultRefreshInterval = 60 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the log entry used by the coordinator.
func WithLogger(entry *log.Entry) Option {
	return func(c *Coordinator) { c.logger = entry }
}

// WithRefreshInterval sets the periodic refresh interval used by Run.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the client-side view of the driver's shift: whether one
// is active, which truck and trips are bound to it, and the schedule window.
//
// Activate and End are mutually exclusive with every other operation. Local
// state changes happen under mu; mu is never held across a gateway call.
type Coordinator struct {
	gw       gateway.ShiftGateway
	session  *models.Session
	logger   *log.Entry
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	state       State
	shift       *models.ActiveShift
	schedules   []models.ShiftSchedule
	current     *models.ShiftSchedule
	serverTime  string
	refreshedAt time.Time
	issuedSeq   uint64
	appliedSeq  uint64
	mutating    bool
	refreshing  int
	deferred    bool
	subscribers map[chan Snapshot]struct{}

	refreshCh chan struct{}
}

// NewCoordinator creates a coordinator in StateUnknown.
func NewCoordinator(gw gateway.ShiftGateway, session *models.Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		gw:          gw,
		session:     session,
		logger:      log.WithField("component", "shift"),
		interval:    defaultRefreshInterval,
		now:         time.Now,
		state:       StateUnknown,
		subscribers: make(map[chan Snapshot]struct{}),
		refreshCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if session != nil {
		c.logger = c.logger.WithField("driver_id", session.DriverID)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       c.state,
		Shift:       c.shift.Clone(),
		ServerTime:  c.serverTime,
		Seq:         c.appliedSeq,
		RefreshedAt: c.refreshedAt,
	}
	if c.schedules != nil {
		snap.Schedules = append([]models.ShiftSchedule(nil), c.schedules...)
	}
	if c.current != nil {
		cur := *c.current
		snap.Current = &cur
	}
	return snap
}

// Refresh fetches the schedule set and the driver's shift concurrently and
// applies both together. On failure the previous state is kept. A response
// that completes after a later-started refresh was applied is discarded
// with ErrStaleResponse.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.mutating {
		c.deferred = true
		err := c.busyLocked("refresh")
		c.mu.Unlock()
		return err
	}
	if c.expiredLocked() {
		c.mu.Unlock()
		return ErrSessionExpired
	}
	c.issuedSeq++
	seq := c.issuedSeq
	c.refreshing++
	c.mu.Unlock()

	var (
		set   *gateway.ScheduleSet
		mine  *models.ActiveShift
		start = c.now()
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		set, err = c.gw.GetShiftSchedules(egCtx)
		return err
	})
	eg.Go(func() error {
		var err error
		mine, err = c.gw.GetMyShift(egCtx)
		return err
	})
	err := eg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing--

	if err != nil {
		c.logger.WithError(err).WithField("seq", seq).Warn("Shift refresh failed, keeping previous state")
		if gateway.IsTransport(err) {
			return err
		}
		return &gateway.TransportError{Op: "refresh", Err: err}
	}
	if set == nil {
		return &gateway.TransportError{Op: "refresh", Err: errors.New("schedule fetch returned nothing")}
	}
	if seq < c.appliedSeq {
		c.logger.WithFields(log.Fields{"seq": seq, "applied_seq": c.appliedSeq}).Debug("Discarding stale refresh response")
		return ErrStaleResponse
	}
	if err := c.foreignLocked(mine); err != nil {
		c.logger.WithError(err).WithField("seq", seq).Warn("Shift refresh failed, keeping previous state")
		return &gateway.TransportError{Op: "refresh", Err: err}
	}

	c.applyLocked(seq, set, mine)
	c.logger.WithFields(log.Fields{
		"seq":      seq,
		"state":    c.state,
		"shift_id": c.snapshotLocked().ShiftID(),
		"window":   windowName(c.current),
		"dur_ms":   c.now().Sub(start).Milliseconds(),
	}).Debug("Shift state refreshed")
	return nil
}

func (c *Coordinator) applyLocked(seq uint64, set *gateway.ScheduleSet, mine *models.ActiveShift) {
	c.schedules = append([]models.ShiftSchedule(nil), set.Schedules...)
	c.current = nil
	if set.Current != nil {
		if err := set.Current.Validate(); err != nil {
			c.logger.WithError(err).WithField("window_id", set.Current.ID).Warn("Ignoring invalid open window, treating as closed")
		} else {
			cur := *set.Current
			c.current = &cur
		}
	}
	c.serverTime = set.ServerTime

	prev := c.state
	if mine.IsActive() {
		c.shift = mine.Clone()
		c.state = StateActive
	} else {
		c.shift = nil
		c.state = StateIdle
	}
	c.appliedSeq = seq
	c.refreshedAt = c.now()

	if prev == StateActive && c.state == StateIdle {
		c.logger.Info("Shift released by backend")
	}
	c.notifyLocked()
}

// Activate opens a shift. It is valid only from StateIdle while a schedule
// window is open; otherwise it fails with an *InvalidTransitionError and no
// request is issued. A backend rejection returns an
// *ActivationRejectedError and the coordinator goes back to StateIdle.
func (c *Coordinator) Activate(ctx context.Context) error {
	c.mu.Lock()
	if c.mutating || c.refreshing > 0 {
		err := c.busyLocked("activate")
		c.mu.Unlock()
		return err
	}
	if c.expiredLocked() {
		c.mu.Unlock()
		return ErrSessionExpired
	}
	if c.state != StateIdle {
		err := &InvalidTransitionError{Op: "activate", State: c.state}
		c.mu.Unlock()
		return err
	}
	if c.current == nil {
		c.mu.Unlock()
		return &InvalidTransitionError{Op: "activate", State: StateIdle, Reason: "no open shift window"}
	}
	c.mutating = true
	c.state = StateActivating
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("Activating shift")
	shift, err := c.gw.ActivateShift(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.finishMutationLocked()

	if err == nil && !shift.IsActive() {
		err = &gateway.TransportError{Op: "activate shift", Err: errors.New("backend returned no active shift")}
	}
	if err == nil {
		if ferr := c.foreignLocked(shift); ferr != nil {
			err = &gateway.TransportError{Op: "activate shift", Err: ferr}
		}
	}
	if err != nil {
		c.state = StateIdle
		c.notifyLocked()

		var re *gateway.RejectionError
		if errors.As(err, &re) {
			c.logger.WithField("reason", re.Reason).Warn("Shift activation rejected")
			return &ActivationRejectedError{Reason: re.Reason, Err: err}
		}
		c.logger.WithError(err).Warn("Shift activation failed")
		if !gateway.IsTransport(err) {
			return &gateway.TransportError{Op: "activate shift", Err: err}
		}
		return err
	}

	c.shift = shift.Clone()
	c.state = StateActive
	c.bumpSeqLocked()
	c.notifyLocked()

	fields := log.Fields{"shift_id": shift.ID, "trips": len(shift.Trips)}
	if shift.Truck != nil {
		fields["truck_id"] = shift.Truck.ID
	}
	c.logger.WithFields(fields).Info("Shift activated")
	return nil
}

// End terminates the active shift. On failure the coordinator stays in
// StateActive with the same shift, truck and trips.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if c.mutating || c.refreshing > 0 {
		err := c.busyLocked("end")
		c.mu.Unlock()
		return err
	}
	if c.expiredLocked() {
		c.mu.Unlock()
		return ErrSessionExpired
	}
	if c.state != StateActive || c.shift == nil {
		err := &InvalidTransitionError{Op: "end", State: c.state}
		c.mu.Unlock()
		return err
	}
	shiftID := c.shift.ID
	c.mutating = true
	c.state = StateEnding
	c.notifyLocked()
	c.mu.Unlock()

	entry := c.logger.WithField("shift_id", shiftID)
	entry.Info("Ending shift")
	err := c.gw.ReleaseShift(ctx, shiftID)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.finishMutationLocked()

	if err != nil {
		c.state = StateActive
		c.notifyLocked()
		entry.WithError(err).Warn("Ending shift failed, shift still active")
		if !gateway.IsTransport(err) && !gateway.IsRejection(err) {
			return &gateway.TransportError{Op: "release shift", Err: err}
		}
		return err
	}

	c.shift = nil
	c.state = StateIdle
	c.bumpSeqLocked()
	c.notifyLocked()
	entry.Info("Shift ended")
	return nil
}

// RequestRefresh asks Run to refresh soon. It never blocks; requests made
// while Activate or End is in flight are replayed once it completes, and
// repeated requests coalesce.
func (c *Coordinator) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mutating {
		c.deferred = true
		return
	}
	c.signalLocked()
}

// Run performs an initial refresh and then refreshes on every request and
// every interval until ctx is done. Refresh errors are logged only.
func (c *Coordinator) Run(ctx context.Context) error {
	c.refreshAndLog(ctx, "initial")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.refreshAndLog(ctx, "periodic")
		case <-c.refreshCh:
			c.refreshAndLog(ctx, "requested")
		}
	}
}

func (c *Coordinator) refreshAndLog(ctx context.Context, trigger string) {
	err := c.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleResponse), errors.Is(err, ErrOperationInProgress):
		c.logger.WithField("trigger", trigger).WithError(err).Debug("Refresh skipped")
	case ctx.Err() != nil:
	default:
		c.logger.WithField("trigger", trigger).WithError(err).Warn("Refresh failed")
	}
}

// Subscribe returns a channel receiving a snapshot after every state
// change. A slow reader only sees the latest snapshot. Call the returned
// func to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
	}
}

func (c *Coordinator) notifyLocked() {
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Coordinator) finishMutationLocked() {
	c.mutating = false
	if c.deferred {
		c.deferred = false
		c.signalLocked()
	}
}

func (c *Coordinator) signalLocked() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// bumpSeqLocked marks a mutation result as the newest applied state.
func (c *Coordinator) bumpSeqLocked() {
	c.issuedSeq++
	c.appliedSeq = c.issuedSeq
}

func (c *Coordinator) expiredLocked() bool {
	if c.session == nil || !c.session.Expired(c.now()) {
		return false
	}
	c.logger.WithField("expires_at", c.session.ExpiresAt).Warn("Driver session expired, not contacting backend")
	return true
}

// foreignLocked rejects a shift the backend bound to a different driver.
func (c *Coordinator) foreignLocked(s *models.ActiveShift) error {
	if !s.IsActive() || c.session == nil || s.DriverID == "" || s.DriverID == c.session.DriverID {
		return nil
	}
	return fmt.Errorf("shift %s belongs to driver %s", s.ID, s.DriverID)
}

func (c *Coordinator) busyLocked(op string) error {
	return &InvalidTransitionError{Op: op, State: c.state, Reason: "another operation is in flight", busy: true}
}

func windowName(s *models.ShiftSchedule) string {
	if s == nil {
		return "closed"
	}
	if s.Name != "" {
		return s.Name
	}
	return s.String()
}
