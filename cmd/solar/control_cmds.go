package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/estokes/solar/internal/control"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "ask the running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendExpectOk(control.FromClient{Cmd: control.Stop})
		},
	}
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load {on|off}",
		Short: "enable or disable the load output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return sendExpectOk(control.FromClient{Cmd: control.SetLoad, Bool: on})
		},
	}
}

func newChargingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "charging {on|off}",
		Short: "enable or disable charging",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return sendExpectOk(control.FromClient{Cmd: control.SetCharging, Bool: on})
		},
	}
}

func newPhyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phy {solar|battery|master} {on|off}",
		Short: "directly drive one of the three safety-critical relays",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			var kind control.Kind
			switch args[0] {
			case "solar":
				kind = control.SetPhySolar
			case "battery":
				kind = control.SetPhyBattery
			case "master":
				kind = control.SetPhyMaster
			default:
				return fmt.Errorf("expected \"solar\", \"battery\", or \"master\", got %q", args[0])
			}
			return sendExpectOk(control.FromClient{Cmd: kind, Bool: on})
		},
	}
	return cmd
}

func newCancelFloatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-float",
		Short: "briefly disconnect charging to force the controller out of float",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendExpectOk(control.FromClient{Cmd: control.SetCharging, Bool: false}); err != nil {
				return err
			}
			return sendExpectOk(control.FromClient{Cmd: control.SetCharging, Bool: true})
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "reset the charge controller through its reset coil (best-effort, always replies Ok)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendExpectOk(control.FromClient{Cmd: control.ResetController})
		},
	}
}

func newNightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "night",
		Short: "drive master, solar, and battery low in that order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendExpectOk(control.FromClient{Cmd: control.SetPhyMaster, Bool: false}); err != nil {
				return err
			}
			if err := sendExpectOk(control.FromClient{Cmd: control.SetPhySolar, Bool: false}); err != nil {
				return err
			}
			return sendExpectOk(control.FromClient{Cmd: control.SetPhyBattery, Bool: false})
		},
	}
}
