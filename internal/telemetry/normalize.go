package telemetry

import (
	"regexp"
	"strings"
)

var (
	// spacedLetters matches runs of single letters separated by whitespace,
	// e.g. "M i n e r" emitted by some miner builds.
	spacedLetters = regexp.MustCompile(`((?:[A-Za-z]\s+)+[A-Za-z])`)

	whitespace = regexp.MustCompile(`\s+`)

	spacedSlash = regexp.MustCompile(`\s*/\s*`)
)

// Normalize removes whitespace injected inside tokens so extraction patterns
// see a canonical line. It runs three passes, in order:
//
//  1. letters separated by whitespace are joined ("M H" -> "MH")
//  2. whitespace between a digit and a following digit or '.' is dropped ("12 3.4" -> "123.4")
//  3. whitespace around '/' is dropped ("12 / 0" -> "12/0")
//
// Normalize is idempotent.
func Normalize(line string) string {
	line = spacedLetters.ReplaceAllStringFunc(line, func(m string) string {
		return whitespace.ReplaceAllString(m, "")
	})
	line = joinDigits(line)
	return spacedSlash.ReplaceAllString(line, "/")
}

// joinDigits drops whitespace runs preceded by a digit and followed by a digit
// or '.'. RE2 has no lookbehind, so this is a scanner.
func joinDigits(line string) string {
	if !strings.ContainsAny(line, " \t\n\r\f") {
		return line
	}

	var b strings.Builder
	b.Grow(len(line))

	for i := 0; i < len(line); {
		c := line[i]
		if !isSpace(c) {
			b.WriteByte(c)
			i++
			continue
		}

		j := i
		for j < len(line) && isSpace(line[j]) {
			j++
		}

		prevDigit := i > 0 && isDigit(line[i-1])
		nextNumeric := j < len(line) && (isDigit(line[j]) || line[j] == '.')
		if !prevDigit || !nextNumeric {
			b.WriteString(line[i:j])
		}
		i = j
	}

	return b.String()
}

// isSpace matches the same set as RE2's \s.
func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
