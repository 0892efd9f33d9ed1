package rollinglog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow calls fn for every line appended to path until ctx is done.
//
// It starts at the current end of the file. The file may not exist yet.
// When the file is rotated or recreated, Follow continues from the start of
// the new file; when it is truncated in place, from offset zero.
func Follow(ctx context.Context, path string, fn func(line string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: rotation replaces the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	f := &follower{path: filepath.Clean(path), fn: fn}
	if err := f.open(true); err != nil {
		return err
	}
	defer f.close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				f.drain()
				f.close()
				if err := f.open(false); err != nil {
					return err
				}
				f.drain()
			case ev.Has(fsnotify.Write):
				f.drain()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				f.drain()
				f.close()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", path, err)
		}
	}
}

type follower struct {
	path    string
	fn      func(string)
	file    *os.File
	offset  int64
	partial []byte
}

// open opens the file, at its end when atEnd is set. A missing file is not
// an error; the follower waits for a Create event.
func (f *follower) open(atEnd bool) error {
	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.path, err)
	}

	f.offset = 0
	if atEnd {
		if f.offset, err = file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("seeking %s: %w", f.path, err)
		}
	}
	f.file = file
	f.partial = f.partial[:0]
	return nil
}

func (f *follower) close() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// drain reads everything appended since the last call.
func (f *follower) drain() {
	if f.file == nil {
		return
	}

	if info, err := f.file.Stat(); err == nil && info.Size() < f.offset {
		if _, err := f.file.Seek(0, io.SeekStart); err == nil {
			f.offset = 0
			f.partial = f.partial[:0]
		}
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := f.file.Read(buf)
		if n > 0 {
			f.offset += int64(n)
			f.emit(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (f *follower) emit(chunk []byte) {
	f.partial = append(f.partial, chunk...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			return
		}
		line := bytes.TrimRight(f.partial[:i], "\r")
		f.fn(string(line))
		f.partial = f.partial[i+1:]
	}
}
