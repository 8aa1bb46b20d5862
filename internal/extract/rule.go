// Package extract turns single log lines into typed values. Every extractor
// is a literal marker that gates a capture pattern: the pattern only runs on
// lines containing the marker, and a line whose marker matches but whose
// pattern does not simply yields nothing
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Rule is a marker substring plus a capture pattern. Group 1 of the pattern
// is the captured payload
type Rule struct {
	Marker  string
	Pattern *regexp.Regexp
}

// NewRule compiles a rule, panicking on an invalid pattern. Rules are
// package-level grammar so a bad pattern is a programming error
func NewRule(marker, pattern string) Rule {
	return Rule{Marker: marker, Pattern: regexp.MustCompile(pattern)}
}

// Capture returns the first non-empty capture group when the line carries
// the marker and matches the pattern
func (r Rule) Capture(line string) (string, bool) {
	if !strings.Contains(line, r.Marker) {
		return "", false
	}

	match := r.Pattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	for _, group := range match[1:] {
		if group != "" {
			return group, true
		}
	}
	return "", false
}

// Extractor converts the payload captured by a Rule into a typed value
type Extractor[T any] struct {
	Name    string
	Rule    Rule
	Convert func(string) (T, error)
}

// Extract applies the extractor to one line
func (e Extractor[T]) Extract(line string) (T, bool) {
	var zero T

	raw, ok := e.Rule.Capture(line)
	if !ok {
		return zero, false
	}

	v, err := e.Convert(raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

// Float builds an extractor for decimal values such as percentages
func Float(name string, rule Rule) Extractor[float64] {
	return Extractor[float64]{
		Name: name,
		Rule: rule,
		Convert: func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		},
	}
}

// Int builds an extractor for counts. Thousands separators are accepted
func Int(name string, rule Rule) Extractor[int64] {
	return Extractor[int64]{
		Name: name,
		Rule: rule,
		Convert: func(s string) (int64, error) {
			return strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
		},
	}
}

// Text builds an extractor that returns the capture verbatim
func Text(name string, rule Rule) Extractor[string] {
	return Extractor[string]{
		Name: name,
		Rule: rule,
		Convert: func(s string) (string, error) {
			return s, nil
		},
	}
}
