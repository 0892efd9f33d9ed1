package telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

// Field names a telemetry field extracted by a rule chain.
type Field string

const (
	FieldHashrate    Field = "hashrate"
	FieldShares      Field = "shares"
	FieldPower       Field = "power"
	FieldTemperature Field = "temperature"
)

// Rule is one (pattern, extractor) link in a field's fallback chain.
type Rule struct {
	// Name identifies the rule in tests and debug logs.
	Name string

	// Pattern is the compiled expression the rule evaluates.
	Pattern *regexp.Regexp

	extract func(re *regexp.Regexp, line string) (Update, bool)
}

// Extract runs the rule against an already normalised line.
func (r Rule) Extract(line string) (Update, bool) {
	return r.extract(r.Pattern, line)
}

// Chain is the ordered list of rules for a single field.
// The first rule that matches wins; later rules are not evaluated.
type Chain struct {
	Field Field
	Rules []Rule
}

// Evaluate returns the update from the first matching rule.
func (c Chain) Evaluate(line string) (Update, string, bool) {
	for _, r := range c.Rules {
		if u, ok := r.Extract(line); ok {
			return u, r.Name, true
		}
	}
	return Update{}, "", false
}

var chains = []Chain{
	{
		Field: FieldHashrate,
		Rules: []Rule{
			{
				Name:    "labelled-miner-hr",
				Pattern: regexp.MustCompile(`(?i)\bminer\s*hr\b[^0-9]*([\d.]+)\s*mh\b`),
				extract: firstFloat(func(u *Update, v float64) { u.Hashrate = &v }),
			},
			{
				// The aggregate total is printed after per-device figures.
				// The trailing \b also rejects "mhw".
				Name:    "last-mh-token",
				Pattern: regexp.MustCompile(`(?i)([\d.]+)\s*mh\b`),
				extract: lastFloat(func(u *Update, v float64) { u.Hashrate = &v }),
			},
		},
	},
	{
		Field: FieldShares,
		Rules: []Rule{
			{
				Name:    "labelled-ari",
				Pattern: regexp.MustCompile(`(?i)\bA/R/I[:\s]+([0-9-]+)/([0-9-]+)/([0-9-]+)`),
				extract: shareTriple,
			},
			{
				Name:    "table-ari",
				Pattern: regexp.MustCompile(`\|\s*\d+:\d+\s*\|\s*([0-9-]+)/([0-9-]+)/([0-9-]+)\s*\|`),
				extract: shareTriple,
			},
		},
	},
	{
		Field: FieldPower,
		Rules: []Rule{
			{
				Name:    "labelled-pwr",
				Pattern: regexp.MustCompile(`(?i)\bpwr\b[^\d]*([\d.]+)\s*w\b`),
				extract: firstFloat(func(u *Update, v float64) { u.Power = &v }),
			},
			{
				Name:    "table-watts",
				Pattern: regexp.MustCompile(`(?i)\|\s*(?:\d+\s*%|\s*)\s*\|\s*([\d.]+)\s*w\s*\|`),
				extract: firstFloat(func(u *Update, v float64) { u.Power = &v }),
			},
			{
				Name:    "bare-watts-with-temps",
				Pattern: regexp.MustCompile(`(?i)([\d.]+)\s*w\b`),
				extract: func(re *regexp.Regexp, line string) (Update, bool) {
					if !strings.Contains(line, "C/") {
						return Update{}, false
					}
					return firstFloat(func(u *Update, v float64) { u.Power = &v })(re, line)
				},
			},
		},
	},
	{
		Field: FieldTemperature,
		Rules: []Rule{
			{
				Name:    "core-mem-pair",
				Pattern: regexp.MustCompile(`(\d+)C/(\d+)C`),
				extract: firstFloat(func(u *Update, v float64) { u.Temperature = &v }),
			},
		},
	},
}

// Rules returns the field chains in evaluation order.
func Rules() []Chain {
	out := make([]Chain, len(chains))
	copy(out, chains)
	return out
}

// firstFloat builds an extractor that parses group 1 of the first match.
func firstFloat(set func(*Update, float64)) func(*regexp.Regexp, string) (Update, bool) {
	return func(re *regexp.Regexp, line string) (Update, bool) {
		m := re.FindStringSubmatch(line)
		if m == nil {
			return Update{}, false
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Update{}, false
		}
		var u Update
		set(&u, v)
		return u, true
	}
}

// lastFloat builds an extractor that parses group 1 of the last match.
func lastFloat(set func(*Update, float64)) func(*regexp.Regexp, string) (Update, bool) {
	return func(re *regexp.Regexp, line string) (Update, bool) {
		all := re.FindAllStringSubmatch(line, -1)
		if len(all) == 0 {
			return Update{}, false
		}
		v, err := strconv.ParseFloat(all[len(all)-1][1], 64)
		if err != nil {
			return Update{}, false
		}
		var u Update
		set(&u, v)
		return u, true
	}
}

// shareTriple extracts the A/R/I counters as a single unit.
func shareTriple(re *regexp.Regexp, line string) (Update, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return Update{}, false
	}
	return Update{Shares: &Shares{
		Accepted: shareCount(m[1]),
		Rejected: shareCount(m[2]),
		Invalid:  shareCount(m[3]),
	}}, true
}

// shareCount reads a counter token where '-' is a placeholder for zero.
// Anything unparsable counts as zero.
func shareCount(tok string) uint64 {
	n, err := strconv.ParseUint(strings.ReplaceAll(tok, "-", "0"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
