package rollinglog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Writer.
type Options struct {
	// Path is the log file. Its directory is created if needed.
	Path string

	// MaxSizeMB rotates the file once it reaches this size.
	// 0 keeps a single append-only file.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. 0 keeps all.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// Writer appends captured output lines to a log file.
//
// Each line is written with a single Write call, so concurrent readers see
// whole lines. It is safe for concurrent use.
type Writer struct {
	path string

	mu sync.Mutex
	w  io.WriteCloser
}

// Open opens (or creates) the log file described by opts.
func Open(opts Options) (*Writer, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("rollinglog: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	var w io.WriteCloser
	if opts.MaxSizeMB > 0 {
		w = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
		}
	} else {
		f, err := os.OpenFile(opts.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
	}

	return &Writer{path: opts.Path, w: w}, nil
}

// Path returns the active log file path.
func (w *Writer) Path() string {
	return w.path
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return 0, os.ErrClosed
	}
	return w.w.Write(p)
}

// WriteLine appends line followed by a newline.
func (w *Writer) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

// Close closes the underlying file. Further writes fail with os.ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	err := w.w.Close()
	w.w = nil
	return err
}
