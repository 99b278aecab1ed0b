package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ukydev/fleet-driver/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNilCollection is returned by every operation on an unconfigured store.
var ErrNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB using the MONGO_URI environment variable.
func ConnectMongo() (*mongo.Client, error) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// notificationDoc is the stored form of a feed entry.
type notificationDoc struct {
	ObjectID                 primitive.ObjectID `bson:"_id,omitempty"`
	DriverID                 string             `bson:"driver_id"`
	StoredAt                 time.Time          `bson:"stored_at"`
	models.NotificationEvent `bson:",inline"`
}

// MongoNotificationCollection implements NotificationCollection for MongoDB.
type MongoNotificationCollection struct {
	Collection *mongo.Collection
}

var _ NotificationCollection = (*MongoNotificationCollection)(nil)

// NewMongoNotificationCollection returns the "notifications" collection of
// the given database.
func NewMongoNotificationCollection(client *mongo.Client, dbName string) *MongoNotificationCollection {
	return &MongoNotificationCollection{Collection: client.Database(dbName).Collection("notifications")}
}

func byEvent(driverID, eventID string) bson.M {
	return bson.M{"driver_id": driverID, "event_id": eventID}
}

// EnsureIndexes creates the unique {driver_id, event_id} index that backs
// deduplication across restarts.
func (c *MongoNotificationCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	_, err := c.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "driver_id", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "timestamp", Value: -1}},
		},
	})
	return err
}

// find runs a query scoped to the collection.
func (c *MongoNotificationCollection) find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (NotificationCursor, error) {
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoNotificationCursor{cursor: cursor}, nil
}

// List returns the driver's stored feed, newest first.
func (c *MongoNotificationCollection) List(ctx context.Context, driverID string) ([]models.NotificationEvent, error) {
	if c.Collection == nil {
		return nil, ErrNilCollection
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := c.find(ctx, bson.M{"driver_id": driverID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	events := make([]models.NotificationEvent, 0, len(docs))
	for _, d := range docs {
		events = append(events, d.NotificationEvent)
	}
	return events, nil
}

// Save stores ev unless the driver already has an entry with the same
// event ID. A redelivery never resets the stored read flag.
func (c *MongoNotificationCollection) Save(ctx context.Context, driverID string, ev models.NotificationEvent) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	if ev.ID == "" {
		return fmt.Errorf("notification without event id")
	}
	doc := notificationDoc{DriverID: driverID, StoredAt: time.Now().UTC(), NotificationEvent: ev}
	_, err := c.Collection.UpdateOne(ctx,
		byEvent(driverID, ev.ID),
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

// MarkRead flags a stored entry as read. Missing entries are not an error.
func (c *MongoNotificationCollection) MarkRead(ctx context.Context, driverID, eventID string) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	_, err := c.Collection.UpdateOne(ctx, byEvent(driverID, eventID), bson.M{"$set": bson.M{"read": true}})
	return err
}

// Delete removes a stored entry. Missing entries are not an error.
func (c *MongoNotificationCollection) Delete(ctx context.Context, driverID, eventID string) error {
	if c.Collection == nil {
		return ErrNilCollection
	}
	_, err := c.Collection.DeleteOne(ctx, byEvent(driverID, eventID))
	return err
}

// mongoNotificationCursor wraps a MongoDB cursor for notification queries.
type mongoNotificationCursor struct {
	cursor *mongo.Cursor
}

// All retrieves all results from the cursor.
func (m *mongoNotificationCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

func (m *mongoNotificationCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}
