// Package intern provides a deduplicating string interner for entity fields.
//
// Every task name, target, source location and rendered id that the console
// stores goes through a single Strings registry, so that the many entities
// sharing a value share one allocation. Handles are tracked weakly: once no
// entity holds a handle anymore, the garbage collector reclaims it and the
// next call to RetainReferenced drops the registry entry.
package intern

import (
	"strings"
	"unsafe"
	"weak"

	"go.uber.org/zap"
)

// shrinkThreshold is the amount of unused map capacity, in bytes, that has to
// accumulate before RetainReferenced rebuilds the registry.
const shrinkThreshold = 4 * 1024

var entrySize = int(unsafe.Sizeof("") + unsafe.Sizeof(weak.Pointer[string]{}))

// Str is an interned string handle. The zero value is the empty string.
type Str struct {
	p *string
}

// String returns the interned value.
func (s Str) String() string {
	if s.p == nil {
		return ""
	}
	return *s.p
}

// Equal reports whether two handles hold the same content.
func (s Str) Equal(o Str) bool {
	return s.String() == o.String()
}

// Same reports whether two handles share the same allocation.
func (s Str) Same(o Str) bool {
	return s.p == o.p
}

// IsZero reports whether s was never interned.
func (s Str) IsZero() bool {
	return s.p == nil
}

// Compare orders handles by content.
func Compare(a, b Str) int {
	return strings.Compare(a.String(), b.String())
}

// Strings is the per-session interner. It is not safe for concurrent use.
type Strings struct {
	strings map[string]weak.Pointer[string]
	peak    int
	logger  *zap.Logger
}

// New creates an empty interner.
func New(logger *zap.Logger) *Strings {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strings{
		strings: make(map[string]weak.Pointer[string]),
		logger:  logger,
	}
}

// Intern returns the live handle for value, registering a new one if none
// exists.
func (s *Strings) Intern(value string) Str {
	if wp, ok := s.strings[value]; ok {
		if p := wp.Value(); p != nil {
			return Str{p: p}
		}
	}

	p := new(string)
	*p = strings.Clone(value)
	s.strings[*p] = weak.Make(p)
	if len(s.strings) > s.peak {
		s.peak = len(s.strings)
	}
	return Str{p: p}
}

// Len returns the number of registered entries, including entries whose
// handle has been collected but not yet swept.
func (s *Strings) Len() int {
	return len(s.strings)
}

// RetainReferenced drops every entry whose handle is no longer held.
func (s *Strings) RetainReferenced() {
	before := len(s.strings)
	for value, wp := range s.strings {
		if wp.Value() == nil {
			delete(s.strings, value)
		}
	}

	after := len(s.strings)
	if after == before {
		return
	}

	// Go maps never give memory back, so the only way to shrink is to copy
	// the survivors into a fresh map.
	freeCap := (s.peak - after) * entrySize
	shouldShrink := freeCap >= shrinkThreshold

	s.logger.Debug("dropped un-referenced strings",
		zap.Int("strings.len", after),
		zap.Int("dropped", before-after),
		zap.Bool("should_shrink", shouldShrink),
	)

	if shouldShrink {
		compacted := make(map[string]weak.Pointer[string], after)
		for value, wp := range s.strings {
			compacted[value] = wp
		}
		s.strings = compacted
		s.peak = after
	}
}
