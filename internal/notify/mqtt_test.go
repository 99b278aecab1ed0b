package notify

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return mqttQoS }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "fleet/drivers/D1/notifications", TopicFor("D1"))
}

func TestMQTTChannel_HandleMessageCopiesPayload(t *testing.T) {
	ch := NewMQTTChannel("tcp://localhost:1883", "agent-D1", "D1")
	buf := []byte(`{"id":"N1"}`)

	ch.handleMessage(nil, &fakeMessage{topic: TopicFor("D1"), payload: buf})
	buf[2] = 'X'

	select {
	case got := <-ch.out:
		assert.Equal(t, `{"id":"N1"}`, string(got))
	default:
		t.Fatal("expected a delivery")
	}
}

func TestMQTTChannel_HandleMessageAfterClose(t *testing.T) {
	ch := NewMQTTChannel("tcp://localhost:1883", "agent-D1", "D1")
	for i := 0; i < deliveryBuffer; i++ {
		ch.handleMessage(nil, &fakeMessage{payload: []byte("{}")})
	}
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	done := make(chan struct{})
	go func() {
		ch.handleMessage(nil, &fakeMessage{payload: []byte("{}")})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a closed channel")
	}
}

func TestMQTTChannel_WithCredentials(t *testing.T) {
	ch := NewMQTTChannel("tcp://localhost:1883", "agent-D1", "D1").WithCredentials("D1", "token")
	assert.Equal(t, "D1", ch.username)
	assert.Equal(t, "token", ch.password)
}

func TestNoopChannel(t *testing.T) {
	var ch Channel = NoopChannel{}
	out, err := ch.Start(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, ch.Close())
}

// Integration test that requires a running MQTT broker
func TestMQTTChannel_Integration(t *testing.T) {
	broker := os.Getenv("MQTT_BROKER_URL")
	if broker == "" {
		t.Skip("Skipping MQTT integration test: MQTT_BROKER_URL not set")
	}

	driverID := fmt.Sprintf("itest-%d", time.Now().UnixNano())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewMQTTChannel(broker, "agent-"+driverID, driverID)
	out, err := ch.Start(ctx)
	require.NoError(t, err)
	defer ch.Close()

	pub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker(broker).SetClientID("pub-" + driverID))
	token := pub.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer pub.Disconnect(100)

	// give the subscription a moment to settle
	time.Sleep(500 * time.Millisecond)
	token = pub.Publish(TopicFor(driverID), mqttQoS, false, `{"id":"N1","type":"trip_assigned"}`)
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	select {
	case raw := <-out:
		ev, err := Decode(raw, time.Now())
		require.NoError(t, err)
		assert.Equal(t, "N1", ev.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received from broker")
	}
}
