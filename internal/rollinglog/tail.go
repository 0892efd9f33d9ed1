package rollinglog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Tail returns up to the last n bytes of the file at path.
// A missing file yields nil and no error.
func Tail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if n > 0 && info.Size() > n {
		if _, err := f.Seek(info.Size()-n, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking %s: %w", path, err)
		}
	}
	return io.ReadAll(f)
}

// TailLines returns the complete lines within the last n bytes of path.
// A line cut by the byte window is dropped.
func TailLines(path string, n int64) ([]string, error) {
	data, err := Tail(path, n)
	if err != nil || len(data) == 0 {
		return nil, err
	}

	info, err := os.Stat(path)
	if err == nil && info.Size() > int64(len(data)) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			return nil, nil
		}
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines, nil
}

// ContainsFold reports whether the last n bytes of path contain marker,
// ignoring case. A missing file never contains the marker.
func ContainsFold(path string, n int64, marker string) (bool, error) {
	data, err := Tail(path, n)
	if err != nil {
		return false, err
	}
	return bytes.Contains(bytes.ToLower(data), []byte(strings.ToLower(marker))), nil
}
