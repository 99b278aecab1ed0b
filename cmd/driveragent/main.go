// Command driveragent runs the driver-side shift coordinator and
// notification feed for one signed-in driver, exposing them on a loopback
// HTTP API for the mobile shell.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "driveragent",
		Short:         "Driver shift and notification agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newStatusCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("driveragent failed")
		os.Exit(1)
	}
}
