// Package archive implements log rotation, gzip'd daily archives, and
// multi-day history replay over the append-only telemetry log.
package archive

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/estokes/solar/internal/config"
	"github.com/estokes/solar/internal/stats"
)

// Rotator is given to archive.Rotate so it can ask the reactor to reopen
// its live log file after the atomic handoff. In production this is a
// control-socket client of the reactor; tests supply a fake.
type Rotator interface {
	NotifyLogRotated() error
}

// Rotate performs the atomic-handoff rotation of the live log into three
// gzip archives for date. If any of the three target files already exist,
// rotation is a no-op and a notice is returned instead of an error.
func Rotate(cfg *config.Config, date time.Time, rotator Rotator) (string, error) {
	full, oneMin, tenMin := cfg.ArchiveFor(date)
	for _, p := range []string{full, oneMin, tenMin} {
		if exists(p) {
			return fmt.Sprintf("archive for %s already exists, nothing to do", date.Format("20060102")), nil
		}
	}

	live := cfg.LogFile()
	tmp := live + ".tmp"
	if err := os.Link(live, tmp); err != nil {
		return "", fmt.Errorf("hard-link live log: %w", err)
	}
	if err := os.Remove(live); err != nil {
		return "", fmt.Errorf("unlink live log: %w", err)
	}
	if err := rotator.NotifyLogRotated(); err != nil {
		return "", fmt.Errorf("notify reactor of log rotation: %w", err)
	}

	if err := archiveFile(tmp, full, oneMin, tenMin); err != nil {
		return "", err
	}
	if err := os.Remove(tmp); err != nil {
		return "", fmt.Errorf("remove tmp file: %w", err)
	}
	return "", nil
}

// ArchiveFile compresses an arbitrary offline NDJSON log (not the live
// log — no hard-link/unlink/notify dance) into the three target files.
// Used by the CLI's `archive -f <file>` path.
func ArchiveFile(input, full, oneMin, tenMin string) error {
	for _, p := range []string{full, oneMin, tenMin} {
		if exists(p) {
			return fmt.Errorf("archive target %s already exists, nothing to do", p)
		}
	}
	return archiveFile(input, full, oneMin, tenMin)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// archiveFile streams input through two aggregators (1-minute, 10-minute)
// and one pass-through, each writing gzip-compressed NDJSON to its own
// output file.
func archiveFile(input, full, oneMin, tenMin string) error {
	var in io.Reader
	if input == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input log: %w", err)
		}
		defer f.Close()
		in = f
	}

	fullW, err := newGzipWriter(full)
	if err != nil {
		return err
	}
	defer fullW.Close()
	oneMinW, err := newGzipWriter(oneMin)
	if err != nil {
		return err
	}
	defer oneMinW.Close()
	tenMinW, err := newGzipWriter(tenMin)
	if err != nil {
		return err
	}
	defer tenMinW.Close()

	oneMinAcc := stats.NewAccumulator(60 * time.Second)
	tenMinAcc := stats.NewAccumulator(600 * time.Second)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env stats.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			// A corrupt line terminates this file's iteration, not the
			// broader history walk; the caller decides what to do next.
			return fmt.Errorf("parse archive line: %w", err)
		}
		if err := writeLine(fullW, env); err != nil {
			return err
		}
		if env.Controller == nil {
			continue
		}
		if out, ok := oneMinAcc.Feed(*env.Controller); ok {
			if err := writeLine(oneMinW, stats.NewV3(out.Timestamp, &out)); err != nil {
				return err
			}
		}
		if out, ok := tenMinAcc.Feed(*env.Controller); ok {
			if err := writeLine(tenMinW, stats.NewV3(out.Timestamp, &out)); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan archive line: %w", err)
	}
	if out, ok := oneMinAcc.Flush(); ok {
		if err := writeLine(oneMinW, stats.NewV3(out.Timestamp, &out)); err != nil {
			return err
		}
	}
	if out, ok := tenMinAcc.Flush(); ok {
		if err := writeLine(tenMinW, stats.NewV3(out.Timestamp, &out)); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, env stats.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

type gzipWriter struct {
	f *os.File
	z *gzip.Writer
}

func newGzipWriter(path string) (*gzipWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &gzipWriter{f: f, z: gzip.NewWriter(f)}, nil
}

func (g *gzipWriter) Write(p []byte) (int, error) { return g.z.Write(p) }

func (g *gzipWriter) Close() error {
	if err := g.z.Close(); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}
