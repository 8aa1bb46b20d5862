package errorfeed

import (
	"regexp"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// Candidate is an error or warning read from one line, before dedup
type Candidate struct {
	Timestamp string
	Message   string
	Level     types.Level
	// Capped candidates are only admitted while the feed is below its cap
	Capped bool
}

// Grammar recognizes the error lines of one log format
type Grammar interface {
	Parse(line string, now time.Time) (Candidate, bool)
	// ParseTime interprets a timestamp produced by Parse
	ParseTime(ts string, now time.Time) (time.Time, bool)
}

var (
	gethErrorPattern = regexp.MustCompile(`ERROR\s*\[([^\]]+)\]\s*(.+)`)
	gethWarnPattern  = regexp.MustCompile(`WARN\s*\[([^\]]+)\]\s*(.+)`)
)

// GethGrammar reads the terminal format of the execution client:
//
//	ERROR[10-19|12:34:56.789] Snapshot extension registration failed  peer=abc
type GethGrammar struct{}

// Parse implements Grammar. A line carrying ERROR is never retried as a
// warning
func (GethGrammar) Parse(line string, _ time.Time) (Candidate, bool) {
	switch {
	case strings.Contains(line, "ERROR"):
		return gethCandidate(gethErrorPattern, line, types.LevelError, false)
	case strings.Contains(line, "WARN"):
		return gethCandidate(gethWarnPattern, line, types.LevelWarn, true)
	}
	return Candidate{}, false
}

func gethCandidate(re *regexp.Regexp, line string, level types.Level, capped bool) (Candidate, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return Candidate{}, false
	}
	return Candidate{
		Timestamp: m[1],
		Message:   m[2],
		Level:     level,
		Capped:    capped,
	}, true
}

const gethTimeLayout = "01-02|15:04:05.000"

// ParseTime reads the yearless geth timestamp, assuming the year of now. A
// result more than a day in the future belongs to the previous year
func (GethGrammar) ParseTime(ts string, now time.Time) (time.Time, bool) {
	t, err := time.ParseInLocation(gethTimeLayout, ts, now.Location())
	if err != nil {
		return time.Time{}, false
	}

	t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), now.Location())
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, true
}

var (
	prysmMessagePattern = regexp.MustCompile(`msg="([^"]+)"|msg=([^\s]+)`)
	prysmTimePattern    = regexp.MustCompile(`time="([^"]+)"`)
)

// PrysmGrammar reads the logfmt-like text format of the consensus client:
//
//	time="2024-01-15 10:30:00" level=error msg="Could not connect" prefix=p2p
type PrysmGrammar struct{}

// Parse implements Grammar. Lines without a time field are stamped with now
func (PrysmGrammar) Parse(line string, now time.Time) (Candidate, bool) {
	if !strings.Contains(line, "level=error") && !strings.Contains(line, `"error"`) {
		return Candidate{}, false
	}

	m := prysmMessagePattern.FindStringSubmatch(line)
	if m == nil {
		return Candidate{}, false
	}
	msg := m[1]
	if msg == "" {
		msg = m[2]
	}

	ts := now.Format(time.RFC3339)
	if tm := prysmTimePattern.FindStringSubmatch(line); tm != nil {
		ts = tm[1]
	}

	return Candidate{
		Timestamp: ts,
		Message:   msg,
		Level:     types.LevelError,
		Capped:    true,
	}, true
}

// ParseTime implements Grammar
func (PrysmGrammar) ParseTime(ts string, now time.Time) (time.Time, bool) {
	return ParseTimestamp(ts, now.Location())
}

// ParseTimestamp tries the common timestamp layouts in order. Layouts
// without a zone are read in loc
func ParseTimestamp(ts string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, ts, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"Jan 02 15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}
