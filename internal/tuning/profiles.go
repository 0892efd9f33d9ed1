package tuning

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultININame is the profile file OverdriveNTool keeps next to its executable.
const DefaultININame = "OverdriveNTool.ini"

const profileMarker = "name="

// INIPath returns the profile file for a tool.
// A file named after the tool ("<tool>.ini") takes precedence over
// DefaultININame when it exists, so renamed builds keep working.
func INIPath(toolPath string) string {
	dir := filepath.Dir(toolPath)
	base := strings.TrimSuffix(filepath.Base(toolPath), filepath.Ext(toolPath))
	if base != "" && !strings.EqualFold(base+".ini", DefaultININame) {
		candidate := filepath.Join(dir, base+".ini")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dir, DefaultININame)
}

// ReadProfiles returns the profile names declared in an OverdriveNTool ini file.
//
// A missing file yields an empty list and no error. The file is usually
// UTF-16 (as written by the tool on Windows) but UTF-8 is accepted too.
func ReadProfiles(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	text, err := decodeINI(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return parseProfileNames(text), nil
}

// decodeINI converts raw ini bytes to a string.
// UTF-16 is chosen when a BOM is present or when the byte layout looks like
// UTF-16 without one; otherwise the bytes are decoded as UTF-8 with any
// UTF-8 BOM stripped.
func decodeINI(data []byte) (string, error) {
	var t transform.Transformer
	if order, ok := sniffUTF16(data); ok {
		t = unicode.UTF16(order, unicode.UseBOM).NewDecoder()
	} else {
		t = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	}

	out, _, err := transform.Bytes(t, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sniffUTF16 detects UTF-16 by BOM, or by NUL bytes in the high half of
// most code units (the common case for ASCII text).
func sniffUTF16(data []byte) (unicode.Endianness, bool) {
	if len(data) >= 2 {
		switch {
		case data[0] == 0xFF && data[1] == 0xFE:
			return unicode.LittleEndian, true
		case data[0] == 0xFE && data[1] == 0xFF:
			return unicode.BigEndian, true
		}
	}

	pairs := len(data) / 2
	if pairs == 0 {
		return unicode.LittleEndian, false
	}

	var evenNUL, oddNUL int
	for i := 0; i+1 < len(data); i += 2 {
		if data[i] == 0 {
			evenNUL++
		}
		if data[i+1] == 0 {
			oddNUL++
		}
	}

	switch {
	case oddNUL*2 > pairs:
		return unicode.LittleEndian, true
	case evenNUL*2 > pairs:
		return unicode.BigEndian, true
	default:
		return unicode.LittleEndian, false
	}
}

// parseProfileNames collects the values of "name=" lines.
// Lines are trimmed and the marker is matched case-insensitively.
func parseProfileNames(text string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if len(line) < len(profileMarker) || !strings.EqualFold(line[:len(profileMarker)], profileMarker) {
			continue
		}
		if name := strings.TrimSpace(line[len(profileMarker):]); name != "" {
			names = append(names, name)
		}
	}
	return names
}
