package main

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/stats"
)

func newTailCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "stream stats envelopes as they are produced",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := dialClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			// TailStats gets no immediate reply; every line that follows is
			// a stats push, so the request is written without sendOne.
			req, err := json.Marshal(control.FromClient{Cmd: control.TailStats})
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			if _, err := conn.Write(append(req, '\n')); err != nil {
				return fmt.Errorf("write request: %w", err)
			}

			reader := bufio.NewReader(conn)
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("tail: connection closed: %w", err)
				}
				var resp control.ToClient
				if err := json.Unmarshal([]byte(line), &resp); err != nil {
					return fmt.Errorf("tail: decode push: %w", err)
				}
				if resp.Kind != control.ReplyStats || resp.Stats == nil {
					continue
				}
				if asJSON {
					fmt.Println(line[:len(line)-1])
					continue
				}
				printStatsLine(*resp.Stats)
			}
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print raw JSON envelopes")
	return cmd
}

func printStatsLine(env stats.Envelope) {
	if env.Controller == nil {
		fmt.Printf("%s  (no reading)\n", env.Timestamp.Format("15:04:05"))
		return
	}
	c := env.Controller
	fmt.Printf("%s  battery=%.2fV array=%.1fW charge_state=%d load_state=%d\n",
		env.Timestamp.Format("15:04:05"), c.BatteryTerminalVoltage, c.ArrayPowerWatts, c.ChargeState, c.LoadState)
}
