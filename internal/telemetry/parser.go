package telemetry

import (
	"bufio"
	"io"
	"strings"
)

// blockPhrases announce a solo block win. Matched case-insensitively.
var blockPhrases = []string{
	"block found",
	"worker found a block",
	"accepted solo block",
}

// maxLineLength bounds a single scanned line in ParseReader.
const maxLineLength = 1 << 20

// ParseLine maps one raw output line to a partial telemetry update.
//
// It never fails: a line with no recognised tokens yields an empty update.
// Block-found classification runs on the raw line and is independent of
// field extraction.
func ParseLine(line string) Update {
	norm := Normalize(line)

	var u Update
	for _, c := range chains {
		if part, _, ok := c.Evaluate(norm); ok {
			u = u.merge(part)
		}
	}
	u.BlockFound = IsBlockFound(line)
	return u
}

// IsBlockFound reports whether the line announces a solo block win.
func IsBlockFound(line string) bool {
	low := strings.ToLower(line)
	for _, p := range blockPhrases {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}

// ParseReader replays captured miner output and returns the final snapshot
// along with every block-found line, in order.
func ParseReader(r io.Reader) (Snapshot, []string, error) {
	var (
		snap   Snapshot
		blocks []string
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		u := ParseLine(line)
		if u.BlockFound {
			blocks = append(blocks, line)
		}
		snap = snap.Apply(u)
	}
	return snap, blocks, sc.Err()
}
