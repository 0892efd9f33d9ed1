package miner

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/process"
	"github.com/nerrad567/minerctl/internal/telemetry"
)

const readBufferSize = 64 * 1024

// lineReader splits a pipe into lines, keeping partial lines across reads.
type lineReader struct {
	r       *bufio.Reader
	alive   func() bool
	pending strings.Builder
}

func newLineReader(r io.Reader, alive func() bool) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize), alive: alive}
}

// next returns the next complete line without its line terminator.
//
// errTransientEmpty means no data is available yet while the writer is
// alive; the caller backs off and retries. io.EOF means the writer is gone
// and every line, including a final unterminated one, has been returned.
func (lr *lineReader) next() (string, error) {
	chunk, err := lr.r.ReadString('\n')
	lr.pending.WriteString(chunk)

	switch {
	case err == nil:
		line := lr.pending.String()
		lr.pending.Reset()
		return strings.TrimRight(line, "\r\n"), nil

	case errors.Is(err, io.EOF) && lr.alive():
		return "", errTransientEmpty

	case errors.Is(err, io.EOF):
		if lr.pending.Len() > 0 {
			line := lr.pending.String()
			lr.pending.Reset()
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", io.EOF

	default:
		return "", err
	}
}

// readLoop consumes the miner output of one generation.
func (s *Supervisor) readLoop(gen uint64, h *process.Handle) {
	defer s.wg.Done()
	defer h.Close()

	lr := newLineReader(h.Output(), h.Alive)
	for {
		line, err := lr.next()
		switch {
		case err == nil:
			s.handleLine(gen, line)
		case errors.Is(err, errTransientEmpty):
			time.Sleep(s.cfg.ReadBackoff)
		case errors.Is(err, io.EOF):
			s.logger.Debug("miner output closed", "generation", gen)
			return
		default:
			s.logger.Warn("reading miner output failed", "generation", gen, "error", err)
			return
		}
	}
}

// handleLine records, classifies and parses one output line.
//
// The telemetry update is applied only while gen is still the current
// generation, so output of a previous run cannot leak into a new one.
func (s *Supervisor) handleLine(gen uint64, line string) {
	if s.deps.Log != nil {
		if err := s.deps.Log.WriteLine(line); err != nil {
			s.logger.Debug("writing miner log failed", "error", err)
		}
	}

	u := telemetry.ParseLine(line)
	now := time.Now()

	if u.BlockFound {
		s.blocks.Add(1)
		s.logger.Info("block found", "generation", gen, "line", line)
		s.sink.Publish(events.NewBlockFound(line, gen))
	}

	s.sink.Publish(events.LogLine{Timestamp: now, Line: line, Generation: gen})

	if u.IsEmpty() {
		return
	}

	s.mu.Lock()
	if s.gen == gen {
		s.snapshot = s.snapshot.ApplyAt(u, now)
	}
	s.mu.Unlock()
}
