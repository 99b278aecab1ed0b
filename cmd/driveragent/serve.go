package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-driver/internal/config"
	"github.com/ukydev/fleet-driver/internal/handlers"
	"github.com/ukydev/fleet-driver/internal/middleware"
	"github.com/ukydev/fleet-driver/internal/shift"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent and its loopback API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.AgentAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides AGENT_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withFeed(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.AgentAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.AgentAddr, err)
	}
	return a.serve(ctx, ln)
}

// serve runs the coordinator, the notification pipeline and the loopback
// API until ctx is cancelled or one of them fails.
func (a *agent) serve(ctx context.Context, ln net.Listener) error {
	if err := a.reconciler.Load(ctx); err != nil {
		log.WithError(err).Warn("Starting with an empty notification feed")
	}
	deliveries, err := a.channel.Start(ctx)
	if err != nil {
		ln.Close()
		return fmt.Errorf("start %s notifications: %w", a.cfg.NotifyTransport, err)
	}

	authMW := middleware.NewAuthMiddleware(a.auth, a.session.DriverID)
	srv := &http.Server{
		Handler:           handlers.NewRouter(authMW, a.coordinator, a.reconciler, a.cfg.CORSOrigins...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(a.coordinator.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(a.reconciler.Run(gctx, deliveries))
	})
	g.Go(func() error {
		logTransitions(gctx, a.coordinator)
		return nil
	})
	g.Go(func() error {
		log.WithFields(log.Fields{
			"addr":      ln.Addr().String(),
			"driver_id": a.session.DriverID,
			"transport": a.cfg.NotifyTransport,
		}).Info("Driver agent listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("loopback api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("Driver agent stopped")
	return err
}

// logTransitions logs every lifecycle state change until ctx ends.
func logTransitions(ctx context.Context, c *shift.Coordinator) {
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	last := c.State()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if snap.State == last {
				continue
			}
			log.WithFields(log.Fields{
				"from":     last.String(),
				"to":       snap.State.String(),
				"shift_id": snap.ShiftID(),
				"seq":      snap.Seq,
			}).Info("Shift state changed")
			last = snap.State
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
