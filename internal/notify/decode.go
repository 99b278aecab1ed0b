package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ukydev/fleet-driver/internal/models"
)

// ErrParseFailure marks a push payload that could not be turned into an
// event. Such payloads are dropped and counted, never shown to the driver.
var ErrParseFailure = errors.New("malformed notification")

// wireEvent accepts both the nested `data` payload the backend sends and
// the flat FCM-style variant where trip_id and screen sit at the top level.
type wireEvent struct {
	ID             string          `json:"id"`
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	TripID         string          `json:"trip_id"`
	Screen         string          `json:"screen"`
	Timestamp      json.RawMessage `json:"timestamp"`
	Read           bool            `json:"read"`
	Data           struct {
		TripID string `json:"trip_id"`
		Screen string `json:"screen"`
	} `json:"data"`
}

// Decode parses a raw push payload. now stamps events that carry no
// timestamp of their own.
func Decode(raw []byte, now time.Time) (models.NotificationEvent, error) {
	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return models.NotificationEvent{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	ev := models.NotificationEvent{
		ID:    strings.TrimSpace(firstNonEmpty(w.ID, w.NotificationID)),
		Type:  models.ParseNotificationType(w.Type),
		Title: w.Title,
		Body:  w.Body,
		Payload: models.NotificationPayload{
			TripID: firstNonEmpty(w.Data.TripID, w.TripID),
			Screen: firstNonEmpty(w.Data.Screen, w.Screen),
		},
		Read: w.Read,
	}
	if ev.ID == "" {
		return models.NotificationEvent{}, fmt.Errorf("%w: missing id", ErrParseFailure)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return models.NotificationEvent{}, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if ts.IsZero() {
		ts = now
	}
	ev.Timestamp = ts
	return ev, nil
}

// parseTimestamp accepts RFC 3339 strings, unix seconds and unix
// milliseconds, either as JSON numbers or numeric strings.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		raw = json.RawMessage(s)
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", string(raw))
	}
	// values past year 2286 in seconds are taken as milliseconds
	if n > 1e10 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
