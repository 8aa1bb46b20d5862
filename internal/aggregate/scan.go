// Package aggregate folds a window of log lines into the latest value of each
// metric. Lines are visited from the newest to the oldest and the first
// successful extraction for a slot wins; slots nothing matched keep their
// configured default
package aggregate

import "github.com/therealutkarshpriyadarshi/nodewatch/internal/extract"

// ReverseScan visits lines from the last (newest) to the first (oldest)
// The scan stops early when visit returns false
func ReverseScan(lines []string, visit func(line string) bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if !visit(lines[i]) {
			return
		}
	}
}

// slot holds one metric during a scan
type slot[T any] struct {
	extractor extract.Extractor[T]
	value     T
	resolved  bool
}

func newSlot[T any](e extract.Extractor[T], def T) *slot[T] {
	return &slot[T]{extractor: e, value: def}
}

// offer assigns the slot from line unless a newer line already did
func (s *slot[T]) offer(line string) {
	if s.resolved {
		return
	}
	if v, ok := s.extractor.Extract(line); ok {
		s.value = v
		s.resolved = true
	}
}

func (s *slot[T]) name() string {
	return s.extractor.Name
}

func (s *slot[T]) done() bool {
	return s.resolved
}

// scanSlot is the type-erased view of a slot used to drive a scan
type scanSlot interface {
	offer(line string)
	name() string
	done() bool
}

// scan runs every slot over lines newest first, stopping once all slots are
// resolved. It returns the names of slots left at their default
func scan(lines []string, slots ...scanSlot) []string {
	ReverseScan(lines, func(line string) bool {
		pending := false
		for _, s := range slots {
			s.offer(line)
			if !s.done() {
				pending = true
			}
		}
		return pending
	})

	var defaulted []string
	for _, s := range slots {
		if !s.done() {
			defaulted = append(defaulted, s.name())
		}
	}
	return defaulted
}
