// Command solar is the supervisor's entrypoint: it runs the daemon
// (`start`) and carries every operator subcommand that talks to a running
// daemon over the control socket.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "solar",
		Short: "off-grid solar supervisor",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to solar.conf (default /etc/solar.conf)")

	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newLoadCmd(),
		newChargingCmd(),
		newPhyCmd(),
		newCancelFloatCmd(),
		newArchiveCmd(),
		newResetCmd(),
		newTailCmd(),
		newSettingsCmd(),
		newNightCmd(),
	)

	if err := root.Execute(); err != nil {
		log.SetFlags(0)
		log.Println(err)
		os.Exit(1)
	}
}
