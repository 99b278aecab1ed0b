package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-driver/internal/models"
)

func TestDecode(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		want    models.NotificationEvent
		wantErr bool
	}{
		{
			name: "nested data payload",
			raw:  `{"id":"N1","type":"trip_assigned","title":"New trip","body":"Pickup at depot","data":{"trip_id":"R1","screen":"trip-details"},"timestamp":"2026-05-04T09:30:00Z"}`,
			want: models.NotificationEvent{
				ID: "N1", Type: models.NotificationTripAssigned, Title: "New trip", Body: "Pickup at depot",
				Payload:   models.NotificationPayload{TripID: "R1", Screen: "trip-details"},
				Timestamp: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
			},
		},
		{
			name: "flat payload with notification_id",
			raw:  `{"notification_id":"N2","type":"TRIP-STATUS-CHANGE","trip_id":"R2","screen":"trip-map","timestamp":1777887000}`,
			want: models.NotificationEvent{
				ID: "N2", Type: models.NotificationTripStatusChange,
				Payload:   models.NotificationPayload{TripID: "R2", Screen: "trip-map"},
				Timestamp: time.Unix(1777887000, 0).UTC(),
			},
		},
		{
			name: "millisecond timestamp",
			raw:  `{"id":"N3","type":"breakdown_reported","timestamp":1777887000123}`,
			want: models.NotificationEvent{
				ID: "N3", Type: models.NotificationBreakdownReported,
				Timestamp: time.UnixMilli(1777887000123).UTC(),
			},
		},
		{
			name: "numeric string timestamp",
			raw:  `{"id":"N4","type":"trip_started","timestamp":"1777887000"}`,
			want: models.NotificationEvent{
				ID: "N4", Type: models.NotificationTripStarted,
				Timestamp: time.Unix(1777887000, 0).UTC(),
			},
		},
		{
			name: "missing timestamp uses now",
			raw:  `{"id":"N5","type":"something_new"}`,
			want: models.NotificationEvent{ID: "N5", Type: models.NotificationOther, Timestamp: now},
		},
		{name: "missing id", raw: `{"type":"trip_assigned"}`, wantErr: true},
		{name: "blank id", raw: `{"id":"  ","type":"trip_assigned"}`, wantErr: true},
		{name: "bad timestamp", raw: `{"id":"N6","timestamp":"yesterday"}`, wantErr: true},
		{name: "not json", raw: `<xml/>`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw), now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParseFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.Body, got.Body)
			assert.Equal(t, tt.want.Payload, got.Payload)
			assert.True(t, tt.want.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", got.Timestamp, tt.want.Timestamp)
		})
	}
}
