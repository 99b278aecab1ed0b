package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Channel delivers raw push payloads for one driver session.
type Channel interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Close() error
}

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	deliveryBuffer     = 64
)

// TopicFor is the MQTT topic carrying a driver's notifications.
func TopicFor(driverID string) string {
	return "fleet/drivers/" + driverID + "/notifications"
}

// MQTTChannel receives notifications from the fleet MQTT broker. The
// delivery channel is never closed; stop consuming via the context.
type MQTTChannel struct {
	brokerURL string
	clientID  string
	topic     string
	username  string
	password  string
	logger    *log.Entry

	client mqtt.Client
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewMQTTChannel creates a channel subscribing to the driver's topic.
func NewMQTTChannel(brokerURL, clientID, driverID string) *MQTTChannel {
	return &MQTTChannel{
		brokerURL: brokerURL,
		clientID:  clientID,
		topic:     TopicFor(driverID),
		logger:    log.WithFields(log.Fields{"component": "mqtt", "topic": TopicFor(driverID)}),
		out:       make(chan []byte, deliveryBuffer),
		done:      make(chan struct{}),
	}
}

// WithCredentials sets broker credentials; the token-based broker accepts
// the session JWT as password.
func (m *MQTTChannel) WithCredentials(username, password string) *MQTTChannel {
	m.username = username
	m.password = password
	return m
}

// Start connects and subscribes. The persistent session plus QoS 1 lets the
// broker redeliver messages missed while offline; duplicates are expected.
func (m *MQTTChannel) Start(ctx context.Context) (<-chan []byte, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(m.brokerURL).
		SetClientID(m.clientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.WithError(err).Warn("MQTT connection lost")
		})
	if m.username != "" {
		opts.SetUsername(m.username).SetPassword(m.password)
	}

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", m.brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", m.brokerURL, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			m.Close()
		case <-m.done:
		}
	}()
	return m.out, nil
}

// onConnect (re)subscribes after every successful connection.
func (m *MQTTChannel) onConnect(c mqtt.Client) {
	token := c.Subscribe(m.topic, mqttQoS, m.handleMessage)
	go func() {
		if !token.WaitTimeout(mqttConnectTimeout) {
			m.logger.Warn("MQTT subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			m.logger.WithError(err).Error("MQTT subscribe failed")
			return
		}
		m.logger.Info("Subscribed to notifications")
	}()
}

func (m *MQTTChannel) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case m.out <- payload:
	case <-m.done:
	}
}

// Close disconnects from the broker. It is safe to call more than once.
func (m *MQTTChannel) Close() error {
	m.once.Do(func() {
		close(m.done)
		if m.client != nil && m.client.IsConnected() {
			m.client.Disconnect(250)
		}
	})
	return nil
}

// NoopChannel is used when push delivery is disabled. Its nil delivery
// channel never yields, so consumers idle until their context ends.
type NoopChannel struct{}

func (NoopChannel) Start(context.Context) (<-chan []byte, error) { return nil, nil }
func (NoopChannel) Close() error                                 { return nil }
