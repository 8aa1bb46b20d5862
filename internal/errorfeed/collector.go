// Package errorfeed collects recent errors and warnings from the service logs
// into a short, deduplicated list for the dashboard
package errorfeed

import (
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

// UnavailableMessage is reported when no service log could be read
const UnavailableMessage = "Unable to fetch error logs"

// Stream is the log window of one service
type Stream struct {
	Service     types.Service
	Grammar     Grammar
	Lines       []string
	Unavailable bool
}

// Collector builds the error feed
type Collector struct {
	cfg config.ErrorsConfig
	now func() time.Time
}

// NewCollector creates a collector with the given limits
func NewCollector(cfg config.ErrorsConfig) *Collector {
	return &Collector{cfg: cfg, now: time.Now}
}

type collected struct {
	entry  types.ErrorEntry
	at     time.Time
	parsed bool
}

// Collect scans each stream oldest to newest, in the order given, into one
// feed keyed by normalized message. The feed is sorted newest first and
// truncated. When every stream is unavailable a single synthetic entry is
// returned instead
func (c *Collector) Collect(streams ...Stream) []types.ErrorEntry {
	now := c.now()

	if allUnavailable(streams) {
		return []types.ErrorEntry{{
			Timestamp: now.Format(time.RFC3339),
			Service:   types.ServiceSystem,
			Message:   UnavailableMessage,
			Level:     types.LevelError,
		}}
	}

	seen := make(map[string]struct{})
	var feed []collected

	for _, stream := range streams {
		if stream.Unavailable {
			continue
		}

		for _, line := range stream.Lines {
			cand, ok := stream.Grammar.Parse(line, now)
			if !ok {
				continue
			}

			msg := Normalize(cand.Message, c.cfg.MessageLimit)
			if msg == "" {
				continue
			}
			if _, dup := seen[msg]; dup {
				continue
			}
			if cand.Capped && len(feed) >= c.cfg.CollectCap {
				continue
			}

			seen[msg] = struct{}{}
			at, parsed := stream.Grammar.ParseTime(cand.Timestamp, now)
			feed = append(feed, collected{
				entry: types.ErrorEntry{
					Timestamp: cand.Timestamp,
					Service:   stream.Service,
					Message:   msg,
					Level:     cand.Level,
				},
				at:     at,
				parsed: parsed,
			})
		}
	}

	// Newest first; entries with an unreadable timestamp go last
	sort.SliceStable(feed, func(i, j int) bool {
		a, b := feed[i], feed[j]
		if a.parsed != b.parsed {
			return a.parsed
		}
		return a.at.After(b.at)
	})

	if c.cfg.MaxEntries > 0 && len(feed) > c.cfg.MaxEntries {
		feed = feed[:c.cfg.MaxEntries]
	}

	entries := make([]types.ErrorEntry, len(feed))
	for i, f := range feed {
		entries[i] = f.entry
	}
	return entries
}

func allUnavailable(streams []Stream) bool {
	if len(streams) == 0 {
		return false
	}
	for _, s := range streams {
		if !s.Unavailable {
			return false
		}
	}
	return true
}

// Normalize collapses runs of whitespace and truncates to limit characters
func Normalize(msg string, limit int) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if limit <= 0 {
		return msg
	}

	runes := []rune(msg)
	if len(runes) > limit {
		msg = string(runes[:limit])
	}
	return msg
}
