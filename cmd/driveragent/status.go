package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/ukydev/fleet-driver/internal/config"
	"github.com/ukydev/fleet-driver/internal/shift"
)

func newStatusCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch the driver's shift state once and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runStatus(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall request timeout")
	return cmd
}

// statusReport is what `driveragent status` prints.
type statusReport struct {
	DriverID       string         `json:"driver_id"`
	SessionExpires time.Time      `json:"session_expires"`
	Snapshot       shift.Snapshot `json:"snapshot"`
}

func runStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	if err := a.coordinator.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh shift: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(statusReport{
		DriverID:       a.session.DriverID,
		SessionExpires: a.session.ExpiresAt,
		Snapshot:       a.coordinator.Snapshot(),
	})
}
