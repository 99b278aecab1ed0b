package handlers

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-driver/internal/gateway"
	"github.com/ukydev/fleet-driver/internal/shift"
)

// ShiftService is the part of *shift.Coordinator the API drives.
type ShiftService interface {
	Snapshot() shift.Snapshot
	Refresh(ctx context.Context) error
	Activate(ctx context.Context) error
	End(ctx context.Context) error
}

const (
	msgInvalidTransition = "Operation not allowed in the current shift state"
	msgInProgress        = "Another shift operation is in progress"
)

// ShiftHandler serves the driver's shift state and its transitions.
type ShiftHandler struct {
	shifts ShiftService
	logger *log.Entry
}

// NewShiftHandler creates a new shift handler
func NewShiftHandler(shifts ShiftService) *ShiftHandler {
	return &ShiftHandler{shifts: shifts, logger: log.WithField("component", "api")}
}

// Get returns the current snapshot without contacting the backend.
func (h *ShiftHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.shifts.Snapshot())
}

// Refresh reloads schedules and the driver's shift from the backend.
func (h *ShiftHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "refresh", h.shifts.Refresh)
}

// Activate asks the backend to start a shift in the open window.
func (h *ShiftHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "activate", h.shifts.Activate)
}

// End releases the active shift.
func (h *ShiftHandler) End(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "end", h.shifts.End)
}

func (h *ShiftHandler) run(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	err := fn(r.Context())
	if err == nil || errors.Is(err, shift.ErrStaleResponse) {
		RespondJSON(w, http.StatusOK, h.shifts.Snapshot())
		return
	}
	status, msg := classify(err)
	h.logger.WithError(err).WithFields(log.Fields{"op": op, "status": status}).Warn("Shift operation failed")
	RespondError(w, status, msg)
}

// classify maps coordinator errors to a status and a driver-facing message.
// Usage errors never expose internal detail.
func classify(err error) (int, string) {
	var rejected *shift.ActivationRejectedError
	var rejection *gateway.RejectionError
	var transport *gateway.TransportError

	switch {
	case errors.As(err, &rejected):
		return http.StatusConflict, rejected.Reason
	case errors.As(err, &rejection):
		return http.StatusConflict, rejection.Reason
	case errors.As(err, &transport):
		return http.StatusBadGateway, transport.Reason()
	case errors.Is(err, shift.ErrSessionExpired):
		return http.StatusUnauthorized, "Session expired, sign in again"
	case errors.Is(err, shift.ErrOperationInProgress):
		return http.StatusConflict, msgInProgress
	case errors.Is(err, shift.ErrInvalidTransition):
		return http.StatusConflict, msgInvalidTransition
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
