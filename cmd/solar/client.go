package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/estokes/solar/internal/config"
	"github.com/estokes/solar/internal/control"
)

// dialClient loads the config at configPath and dials the running daemon's
// control socket.
func dialClient() (*config.Config, net.Conn, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := net.DialTimeout("unix", cfg.ControlSocket(), 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("daemon unreachable at %s: %w", cfg.ControlSocket(), err)
	}
	return cfg, conn, nil
}

// sendOne writes one request and reads back exactly one reply, for every
// subcommand except `tail`, which keeps draining the socket itself.
func sendOne(conn net.Conn, req control.FromClient) (control.ToClient, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return control.ToClient{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		return control.ToClient{}, fmt.Errorf("write request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return control.ToClient{}, fmt.Errorf("read reply: %w", err)
	}
	var resp control.ToClient
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return control.ToClient{}, fmt.Errorf("decode reply: %w", err)
	}
	return resp, nil
}

// sendExpectOk performs the common case: one request, expect Ok, surface
// Err as a Go error.
func sendExpectOk(req control.FromClient) error {
	_, conn, err := dialClient()
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := sendOne(conn, req)
	if err != nil {
		return err
	}
	if resp.Kind == control.ReplyErr {
		return fmt.Errorf("%s", resp.Err)
	}
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected \"on\" or \"off\", got %q", s)
	}
}
