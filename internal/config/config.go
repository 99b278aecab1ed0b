package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Push transports understood by NOTIFY_TRANSPORT.
const (
	TransportMQTT      = "mqtt"
	TransportWebSocket = "websocket"
	TransportNone      = "none"
)

var (
	ErrMissingToken     = errors.New("DRIVER_TOKEN is required")
	ErrUnknownTransport = errors.New("unknown NOTIFY_TRANSPORT")
)

// Config holds the driver agent settings.
type Config struct {
	APIBaseURL  string
	DriverToken string
	JWTSecret   string
	JWTExpiry   time.Duration

	NotifyTransport string
	MQTTBrokerURL   string
	MQTTClientID    string
	WSURL           string

	MongoURI string
	MongoDB  string

	AgentAddr       string
	CORSOrigins     []string
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using environment variables")
	}

	refresh, err := getDuration("REFRESH_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	timeout, err := getDuration("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	expiry, err := getDuration("JWT_EXPIRY", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIBaseURL:      strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8081/api"), "/"),
		DriverToken:     os.Getenv("DRIVER_TOKEN"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTExpiry:       expiry,
		NotifyTransport: strings.ToLower(getEnv("NOTIFY_TRANSPORT", TransportMQTT)),
		MQTTBrokerURL:   getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:    os.Getenv("MQTT_CLIENT_ID"),
		WSURL:           getEnv("WS_URL", "ws://localhost:8081/ws"),
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDB:         getEnv("MONGO_DB", "fleet_driver"),
		AgentAddr:       getEnv("AGENT_ADDR", "127.0.0.1:8787"),
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
		RefreshInterval: refresh,
		HTTPTimeout:     timeout,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
	return cfg, nil
}

// Validate reports settings the agent cannot run without.
func (c *Config) Validate() error {
	if c.DriverToken == "" {
		return ErrMissingToken
	}
	switch c.NotifyTransport {
	case TransportMQTT, TransportWebSocket, TransportNone:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.NotifyTransport)
	}
	return nil
}

// ClientID is the MQTT client ID for driverID, MQTT_CLIENT_ID when set.
// It must be stable across restarts for the broker to keep the session.
func (c *Config) ClientID(driverID string) string {
	if c.MQTTClientID != "" {
		return c.MQTTClientID
	}
	return "driver-agent-" + driverID
}

// SetupLogging applies LOG_LEVEL and LOG_FORMAT to the standard logger.
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("Unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("%s must be positive, got %q", key, v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return d, nil
}
