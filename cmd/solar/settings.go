package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/mppt"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "read or write the charge controller's parameter block",
	}
	cmd.AddCommand(newSettingsReadCmd(), newSettingsWriteCmd())
	return cmd
}

func newSettingsReadCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "read",
		Short: "print the controller's current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := dialClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := sendOne(conn, control.FromClient{Cmd: control.ReadSettings})
			if err != nil {
				return err
			}
			if resp.Kind == control.ReplyErr {
				return fmt.Errorf("%s", resp.Err)
			}
			if resp.Kind != control.ReplySettings || resp.Settings == nil {
				return fmt.Errorf("unexpected reply kind %q", resp.Kind)
			}
			if asJSON {
				b, err := json.MarshalIndent(resp.Settings, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}
			fmt.Printf("regulation_voltage=%.2f float_voltage=%.2f charge_current_limit=%.1f\n",
				resp.Settings.RegulationVoltage, resp.Settings.FloatVoltage, resp.Settings.ChargeCurrentLimit)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the full settings record as JSON")
	return cmd
}

func newSettingsWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <file>",
		Short: "write a full settings record read from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read settings file: %w", err)
			}
			var s mppt.Settings
			if err := json.Unmarshal(b, &s); err != nil {
				return fmt.Errorf("parse settings file: %w", err)
			}
			return sendExpectOk(control.FromClient{Cmd: control.WriteSettingsCmd, Settings: &s})
		},
	}
}
