package archive

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"time"

	"github.com/estokes/solar/internal/config"
	"github.com/estokes/solar/internal/stats"
)

// History replays N days of 10-minute archives followed by a freshly
// decimated tail of the current live log. It never panics on a missing or
// corrupt day: a missing day is silently skipped, and a corrupt record ends
// that day's replay after the records before it have been yielded.
type History struct {
	cfg      *config.Config
	days     []time.Time
	idx      int
	cur      *gzipReader
	tailDone bool
	tailAcc  *stats.Accumulator
	tailFile *os.File
	tailScan *bufio.Scanner
}

// NewHistory returns an iterator over the N calendar days before today
// (oldest first), followed by the live log decimated to 10-minute
// resolution.
func NewHistory(cfg *config.Config, days int, now time.Time) *History {
	h := &History{cfg: cfg}
	for i := days; i >= 1; i-- {
		h.days = append(h.days, now.AddDate(0, 0, -i))
	}
	return h
}

type gzipReader struct {
	f       *os.File
	z       *gzip.Reader
	scanner *bufio.Scanner
}

func openGzipNDJSON(path string) (*gzipReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	z, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s := bufio.NewScanner(z)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &gzipReader{f: f, z: z, scanner: s}, nil
}

func (g *gzipReader) close() {
	g.z.Close()
	g.f.Close()
}

// Next returns the next record in the history, or (Envelope{}, false) when
// the iterator is exhausted. It is restartable: a spent History should be
// discarded and a new one constructed rather than reused.
func (h *History) Next() (stats.Envelope, bool) {
	for {
		if h.cur != nil {
			if h.cur.scanner.Scan() {
				var env stats.Envelope
				if err := json.Unmarshal(h.cur.scanner.Bytes(), &env); err != nil {
					// a corrupt record ends this day's iteration, not the walk
					h.cur.close()
					h.cur = nil
					continue
				}
				return env, true
			}
			h.cur.close()
			h.cur = nil
		}

		if h.idx < len(h.days) {
			day := h.days[h.idx]
			h.idx++
			_, _, tenMin := h.cfg.ArchiveFor(day)
			r, err := openGzipNDJSON(tenMin)
			if err != nil {
				// missing or unreadable archive for this day: skip it
				continue
			}
			h.cur = r
			continue
		}

		if !h.tailDone {
			if h.tailFile == nil {
				f, err := os.Open(h.cfg.LogFile())
				if err != nil {
					h.tailDone = true
					continue
				}
				h.tailFile = f
				s := bufio.NewScanner(f)
				s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
				h.tailScan = s
				h.tailAcc = stats.NewAccumulator(600 * time.Second)
			}
			for h.tailScan.Scan() {
				var env stats.Envelope
				if err := json.Unmarshal(h.tailScan.Bytes(), &env); err != nil {
					continue
				}
				if env.Controller == nil {
					continue
				}
				if out, ok := h.tailAcc.Feed(*env.Controller); ok {
					return stats.NewV3(out.Timestamp, &out), true
				}
			}
			if out, ok := h.tailAcc.Flush(); ok {
				h.tailDone = true
				_ = h.tailFile.Close()
				return stats.NewV3(out.Timestamp, &out), true
			}
			h.tailDone = true
			_ = h.tailFile.Close()
			continue
		}

		return stats.Envelope{}, false
	}
}
