package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-driver/internal/models"
	"github.com/ukydev/fleet-driver/internal/notify"
)

// WireEvent is the push payload as the fleet backend publishes it.
type WireEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Data      WireData  `json:"data"`
}

// WireData carries the navigation hints.
type WireData struct {
	TripID string `json:"trip_id,omitempty"`
	Screen string `json:"screen,omitempty"`
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

var eventTypes = []models.NotificationType{
	models.NotificationTripAssigned,
	models.NotificationTripStarted,
	models.NotificationTripCompleted,
	models.NotificationBreakdownReported,
	models.NotificationTripStatusChange,
}

var depots = []string{"North Depot", "Harbour Yard", "Airport Cargo", "Central Hub", "East Terminal"}

func randomTripID() string {
	return fmt.Sprintf("trip-%04d", rand.Intn(10000))
}

// randomEvent builds a plausible driver notification stamped with now.
func randomEvent(now time.Time) WireEvent {
	typ := eventTypes[rand.Intn(len(eventTypes))]
	tripID := randomTripID()
	ev := WireEvent{
		ID:        uuid.NewString(),
		Type:      wireType(typ),
		Timestamp: now.UTC(),
		Data:      WireData{TripID: tripID},
	}

	depot := depots[rand.Intn(len(depots))]
	switch typ {
	case models.NotificationTripAssigned:
		ev.Title = "New trip assigned"
		ev.Body = fmt.Sprintf("Pickup at %s", depot)
		ev.Data.Screen = notify.ScreenTripDetails
	case models.NotificationTripStarted:
		ev.Title = "Trip started"
		ev.Body = fmt.Sprintf("Trip %s is under way", tripID)
	case models.NotificationTripCompleted:
		ev.Title = "Trip completed"
		ev.Body = fmt.Sprintf("Delivered to %s", depot)
	case models.NotificationBreakdownReported:
		ev.Title = "Breakdown reported"
		ev.Body = "Dispatch has been notified and will reassign your trips"
		ev.Data.Screen = "truck-status"
	case models.NotificationTripStatusChange:
		ev.Title = "Trip updated"
		ev.Body = fmt.Sprintf("Trip %s was changed by dispatch", tripID)
	}
	return ev
}

// wireType renders half of the types with dashes, as some backends do.
func wireType(t models.NotificationType) string {
	if rand.Intn(2) == 0 {
		return strings.ReplaceAll(string(t), "_", "-")
	}
	return string(t)
}

// simulateDriver publishes count events (forever when count is 0) to the
// driver's topic. With probability dupRate the previous payload is sent
// again to exercise redelivery handling.
func simulateDriver(ctx context.Context, pub Publisher, driverID string, interval time.Duration, count int, dupRate float64) int {
	topic := notify.TopicFor(driverID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	sent := 0
	for {
		payload, dup := last, true
		if last == nil || rand.Float64() >= dupRate {
			payload, dup = mustMarshal(randomEvent(time.Now())), false
		}

		if err := pub.Publish(topic, payload); err != nil {
			log.WithError(err).WithField("driver_id", driverID).Error("Failed to publish event")
		} else {
			log.WithFields(log.Fields{"driver_id": driverID, "duplicate": dup}).Debug("Event published")
			last = payload
		}
		sent++
		if count > 0 && sent >= count {
			return sent
		}

		select {
		case <-ctx.Done():
			return sent
		case <-ticker.C:
		}
	}
}

func mustMarshal(ev WireEvent) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	return data
}

// mqttPublisher publishes with QoS 1 over a paho client.
type mqttPublisher struct {
	client mqtt.Client
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func connectMQTT(brokerURL string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("fleet-simulator-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)
	if user := os.Getenv("SIM_MQTT_USERNAME"); user != "" {
		opts.SetUsername(user).SetPassword(os.Getenv("SIM_MQTT_PASSWORD"))
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}
	return &mqttPublisher{client: client}, nil
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return fallback
}

func driverIDs() []string {
	raw := os.Getenv("SIM_DRIVER_IDS")
	if raw == "" {
		return []string{"driver-1"}
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func main() {
	brokerURL := os.Getenv("MQTT_BROKER_URL")
	if brokerURL == "" {
		brokerURL = "tcp://localhost:1883"
	}

	interval := 5 * time.Second
	if n := envInt("SIM_TICK_SECONDS", 0); n >= 1 {
		interval = time.Duration(n) * time.Second
	}
	count := envInt("SIM_EVENT_COUNT", 0)
	dupRate := envFloat("SIM_DUPLICATE_RATE", 0.1)
	drivers := driverIDs()

	log.WithFields(log.Fields{
		"broker":         brokerURL,
		"drivers":        drivers,
		"interval":       interval,
		"events":         count,
		"duplicate_rate": dupRate,
	}).Info("Starting notification simulation")

	pub, err := connectMQTT(brokerURL)
	if err != nil {
		log.WithError(err).Fatal("MQTT broker unreachable")
	}
	defer pub.client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, id := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			sent := simulateDriver(ctx, pub, driverID, interval, count, dupRate)
			log.WithFields(log.Fields{"driver_id": driverID, "sent": sent}).Info("Driver simulation finished")
		}(id)
	}
	wg.Wait()
}
