package main

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/estokes/solar/internal/mppt"
	"github.com/estokes/solar/internal/stats"
)

// reactorPublisher mirrors internal/reactor's unexported publisher
// interface so main can pass either a *netidx.Publisher or a nil value
// without importing the reactor package's internals.
type reactorPublisher interface {
	PublishStats(stats.Envelope)
	PublishSettings(mppt.Settings)
	Close()
}

// execCommand starts exe with args in its own session, stdio redirected to
// logFile, detached from the parent's controlling terminal.
func execCommand(exe string, args []string, logFile *os.File) *exec.Cmd {
	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}
