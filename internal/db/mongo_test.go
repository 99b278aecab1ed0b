package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-driver/internal/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestConnectMongo_BadURI(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://bad:uri")
	client, err := ConnectMongo()
	assert.Error(t, err, "expected error for bad URI")
	assert.Nil(t, client, "expected nil client on error")
}

func TestNotificationCollection_NilCollection(t *testing.T) {
	coll := &MongoNotificationCollection{Collection: nil}
	ctx := context.Background()

	_, err := coll.List(ctx, "D1")
	assert.ErrorIs(t, err, ErrNilCollection)
	assert.ErrorIs(t, coll.Save(ctx, "D1", models.NotificationEvent{ID: "N1"}), ErrNilCollection)
	assert.ErrorIs(t, coll.MarkRead(ctx, "D1", "N1"), ErrNilCollection)
	assert.ErrorIs(t, coll.Delete(ctx, "D1", "N1"), ErrNilCollection)
	assert.ErrorIs(t, coll.EnsureIndexes(ctx), ErrNilCollection)
}

func TestByEvent(t *testing.T) {
	f := byEvent("D1", "N1")
	assert.Equal(t, "D1", f["driver_id"])
	assert.Equal(t, "N1", f["event_id"])
}

// integrationCollection connects to the MongoDB named by MONGO_URI and
// returns a throwaway collection, or skips the test.
func integrationCollection(t *testing.T) *MongoNotificationCollection {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("failed to ping: %v, skipping integration test", err)
	}
	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "fleet_driver_test"
	}
	name := fmt.Sprintf("notifications_%d", time.Now().UnixNano())
	coll := &MongoNotificationCollection{Collection: client.Database(dbName).Collection(name)}
	t.Cleanup(func() {
		coll.Collection.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	require.NoError(t, coll.EnsureIndexes(ctx))
	return coll
}

func TestNotificationCollection_Integration(t *testing.T) {
	coll := integrationCollection(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	older := models.NotificationEvent{ID: "N1", Type: models.NotificationTripAssigned, Timestamp: base,
		Payload: models.NotificationPayload{TripID: "R1"}}
	newer := models.NotificationEvent{ID: "N2", Type: models.NotificationOther, Timestamp: base.Add(time.Hour)}

	require.NoError(t, coll.Save(ctx, "D1", older))
	require.NoError(t, coll.Save(ctx, "D1", newer))
	require.NoError(t, coll.Save(ctx, "D2", older))

	require.NoError(t, coll.MarkRead(ctx, "D1", "N1"))
	// redelivery must not reset the read flag
	require.NoError(t, coll.Save(ctx, "D1", older))

	events, err := coll.List(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "N2", events[0].ID)
	assert.Equal(t, "N1", events[1].ID)
	assert.True(t, events[1].Read)
	assert.Equal(t, "R1", events[1].Payload.TripID)

	require.NoError(t, coll.Delete(ctx, "D1", "N2"))
	require.NoError(t, coll.Delete(ctx, "D1", "missing"))
	events, err = coll.List(ctx, "D1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	other, err := coll.List(ctx, "D2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.False(t, other[0].Read)
}
