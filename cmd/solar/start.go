package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/estokes/solar/internal/config"
	"github.com/estokes/solar/internal/control"
	"github.com/estokes/solar/internal/netidx"
	"github.com/estokes/solar/internal/reactor"
	"github.com/estokes/solar/internal/relay"
	"github.com/estokes/solar/internal/safety"
	"github.com/estokes/solar/internal/session"
)

func newStartCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the supervisor daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if detach {
				return reexecDetached()
			}
			return runDaemon()
		},
	}
	cmd.Flags().BoolVarP(&detach, "detach", "d", false, "fork into the background, redirecting stdio to the run directory")
	return cmd
}

// reexecDetached re-execs the current binary without -d, in its own
// session and with stdio redirected, then exits. There is no daemonizing
// library in the retrieved corpus, so this uses the same os/exec +
// SysProcAttr.Setsid idiom any Go service uses to detach without cgo.
func reexecDetached() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.RunDirectory, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	logPath := filepath.Join(cfg.RunDirectory, "solar.daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log %s: %w", logPath, err)
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	args := []string{"start"}
	if configPath != "" {
		args = []string{"-c", configPath, "start"}
	}

	child := execCommand(exe, args, logFile)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}
	fmt.Printf("started daemon, pid %d\n", child.Process.Pid)
	return nil
}

func runDaemon() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.RunDirectory, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	if cfg.ArchiveDirectory != "" {
		if err := os.MkdirAll(cfg.ArchiveDirectory, 0o755); err != nil {
			return fmt.Errorf("create archive directory: %w", err)
		}
	}

	if err := os.WriteFile(cfg.PIDFile(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDFile())

	relayDriver, err := relay.Open()
	if err != nil {
		return fmt.Errorf("open relay driver: %w", err)
	}
	safetyMgr := safety.New(relayDriver)
	if err := safetyMgr.EnableConverter(); err != nil {
		return fmt.Errorf("enable converter: %w", err)
	}

	sess := session.New(cfg.Device, cfg.ModbusID, safetyMgr)

	cmds := make(chan control.Command, 100)

	var publisher reactorPublisher
	if cfg.MQTTBroker != "" {
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = "solar-supervisor"
		}
		p, err := netidx.Connect(cfg.MQTTBroker, clientID, cfg.MQTTBase, cmds)
		if err != nil {
			return fmt.Errorf("connect mqtt broker: %w", err)
		}
		publisher = p
	}

	react, err := reactor.New(sess, publisher, safetyMgr, cfg.LogFile())
	if err != nil {
		return fmt.Errorf("construct reactor: %w", err)
	}

	srv, err := control.Listen(cfg.ControlSocket())
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	srv.Cmds = cmds

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("solar: received shutdown signal")
		cancel()
	}()

	go srv.Serve(ctx)

	ticker := time.NewTicker(cfg.StatsIntervalDuration())
	defer ticker.Stop()

	log.Printf("solar: supervisor started, device=%s modbus_id=%d stats_interval=%s",
		cfg.Device, cfg.ModbusID, cfg.StatsIntervalDuration())
	react.Run(ctx, ticker.C, cmds)
	return nil
}
