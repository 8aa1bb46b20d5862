// Package source retrieves the most recent lines a node process logged
// Backends report failures as errors; the Guarded wrapper is the boundary
// that turns every failure, timeout or panic into an Unavailable Result
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks every Result that carries no lines
	ErrUnavailable = errors.New("log source unavailable")
	// ErrNoLines is reported when a backend answered with an empty window
	ErrNoLines = errors.New("no log lines returned")
	// ErrUnknownService is reported for a service no source is registered for
	ErrUnknownService = errors.New("unknown service")
)

// Result is the outcome of one retrieval. Err is nil when Lines holds the
// retrieved window, oldest first
type Result struct {
	Lines []string
	Err   error
}

// Available reports whether the retrieval produced lines
func (r Result) Available() bool {
	return r.Err == nil
}

// Unavailable builds a failed Result that still explains why
func Unavailable(reason error) Result {
	return Result{Err: fmt.Errorf("%w: %w", ErrUnavailable, reason)}
}

// Backend reads the tail of one service log
type Backend interface {
	// Name identifies the backend type in logs and metrics
	Name() string
	// Tail returns up to n of the most recent lines, oldest first
	Tail(ctx context.Context, n int) ([]string, error)
}

// Observer receives the outcome of every retrieval
type Observer interface {
	ObserveFetch(service, backend string, duration time.Duration, lines int, err error)
}

// SplitLines splits raw log text into lines, dropping blank ones and the
// journalctl placeholder printed for an empty journal
func SplitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || line == "-- No entries --" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Last returns the final n lines of a window
func Last(lines []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}
