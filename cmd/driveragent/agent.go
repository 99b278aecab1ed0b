package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-driver/internal/auth"
	"github.com/ukydev/fleet-driver/internal/config"
	"github.com/ukydev/fleet-driver/internal/db"
	"github.com/ukydev/fleet-driver/internal/gateway"
	"github.com/ukydev/fleet-driver/internal/models"
	"github.com/ukydev/fleet-driver/internal/notify"
	"github.com/ukydev/fleet-driver/internal/shift"
	"go.mongodb.org/mongo-driver/mongo"
)

// agent is the wired set of components for one driver session.
type agent struct {
	cfg         *config.Config
	auth        *auth.Service
	session     *models.Session
	coordinator *shift.Coordinator
	reconciler  *notify.Reconciler
	channel     notify.Channel
	mongo       *mongo.Client
}

// loadConfig reads and validates configuration and applies log settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.SetupLogging()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newAgent validates the session and builds the coordinator. Storage and
// push delivery are attached by withFeed.
func newAgent(cfg *config.Config) (*agent, error) {
	authService, err := newAuthService(cfg)
	if err != nil {
		return nil, fmt.Errorf("init auth: %w", err)
	}
	session, err := authService.NewSession(cfg.DriverToken)
	if err != nil {
		return nil, fmt.Errorf("open driver session: %w", err)
	}

	logger := log.WithFields(log.Fields{"driver_id": session.DriverID})
	gw := gateway.NewHTTPGateway(cfg.APIBaseURL, session, cfg.HTTPTimeout)
	coordinator := shift.NewCoordinator(gw, session,
		shift.WithLogger(logger.WithField("component", "shift")),
		shift.WithRefreshInterval(cfg.RefreshInterval),
	)

	return &agent{
		cfg:         cfg,
		auth:        authService,
		session:     session,
		coordinator: coordinator,
	}, nil
}

// newAuthService prefers the configured secret and falls back to the
// service's own environment defaults.
func newAuthService(cfg *config.Config) (*auth.Service, error) {
	if cfg.JWTSecret == "" {
		return auth.NewService()
	}
	exp := cfg.JWTExpiry
	if exp <= 0 {
		exp = 24 * time.Hour
	}
	return auth.NewServiceWithSecret(cfg.JWTSecret, exp), nil
}

// withFeed connects the optional MongoDB store and the push channel and
// creates the reconciler feeding refresh requests to the coordinator.
func (a *agent) withFeed(ctx context.Context) error {
	var store db.NotificationCollection
	if a.cfg.MongoURI != "" {
		client, err := db.ConnectMongo()
		if err != nil {
			return err
		}
		a.mongo = client
		coll := db.NewMongoNotificationCollection(client, a.cfg.MongoDB)
		if err := coll.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create notification indexes")
		}
		store = coll
		log.WithField("database", a.cfg.MongoDB).Info("Connected to MongoDB notification store")
	} else {
		log.Info("MONGO_URI not set, notification feed is memory only")
	}

	a.reconciler = notify.NewReconciler(a.session.DriverID, store, a.coordinator)
	a.channel = newChannel(a.cfg, a.session)
	return nil
}

// newChannel picks the push transport named by NOTIFY_TRANSPORT.
func newChannel(cfg *config.Config, session *models.Session) notify.Channel {
	switch cfg.NotifyTransport {
	case config.TransportMQTT:
		return notify.NewMQTTChannel(cfg.MQTTBrokerURL, cfg.ClientID(session.DriverID), session.DriverID).
			WithCredentials(session.DriverID, session.Token)
	case config.TransportWebSocket:
		return notify.NewWebSocketChannel(cfg.WSURL, session.Token)
	default:
		return notify.NoopChannel{}
	}
}

func (a *agent) close() {
	if a.channel != nil {
		a.channel.Close()
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}
}
