package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/estokes/solar/internal/archive"
	"github.com/estokes/solar/internal/config"
	"github.com/estokes/solar/internal/control"
)

// socketRotator asks the running daemon to flush and reopen its live log
// after archive.Rotate has hard-linked it aside, over the same control
// socket every other subcommand uses.
type socketRotator struct {
	conn net.Conn
}

func (r *socketRotator) NotifyLogRotated() error {
	resp, err := sendOne(r.conn, control.FromClient{Cmd: control.LogRotated})
	if err != nil {
		return err
	}
	if resp.Kind == control.ReplyErr {
		return fmt.Errorf("%s", resp.Err)
	}
	return nil
}

func newArchiveCmd() *cobra.Command {
	var file string
	var dateStr string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "compress the live telemetry log (or an offline file) into daily archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			date := time.Now()
			if dateStr != "" {
				date, err = time.Parse("20060102", dateStr)
				if err != nil {
					return fmt.Errorf("parse -d date %q (want YYYYMMDD): %w", dateStr, err)
				}
			}

			if file != "" {
				full, oneMin, tenMin := cfg.ArchiveFor(date)
				return archive.ArchiveFile(file, full, oneMin, tenMin)
			}

			conn, err := net.DialTimeout("unix", cfg.ControlSocket(), 5*time.Second)
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s: %w", cfg.ControlSocket(), err)
			}
			defer conn.Close()

			notice, err := archive.Rotate(cfg, date, &socketRotator{conn: conn})
			if err != nil {
				return err
			}
			if notice != "" {
				fmt.Println(notice)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "archive an offline NDJSON file instead of the live log")
	cmd.Flags().StringVarP(&dateStr, "date", "d", "", "calendar date to archive, YYYYMMDD (default today)")
	return cmd
}
