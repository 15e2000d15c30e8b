// Package warnings implements lints over monitored entities.
//
// A Warner decides whether a warning applies to an entity and how to
// describe it. A Linter wraps one configured Warner and keeps the set of
// entity keys that currently hold the warning, so that Count is always the
// number of affected entities without rescanning them. Entities must call
// Release when they are evicted.
package warnings

import (
	"time"

	"go.uber.org/zap"
)

// Warning is the result of checking one entity.
type Warning int

const (
	// Ok means the warning does not apply.
	Ok Warning = iota
	// Warn means the warning applies.
	Warn
	// Recheck means the entity cannot be judged yet; whatever state it had
	// is kept until a later check decides.
	Recheck
)

func (w Warning) String() string {
	switch w {
	case Ok:
		return "ok"
	case Warn:
		return "warn"
	case Recheck:
		return "recheck"
	default:
		return "unknown"
	}
}

// Warner detects one kind of warning for entities of type T.
type Warner[T any] interface {
	// Name is a short stable identifier used in configuration.
	Name() string

	// Check reports whether the warning applies to val as of now.
	Check(val T, now time.Time) Warning

	// Format describes the warning for a specific val, as a complete
	// sentence. It is only meaningful when Check returns Warn.
	Format(val T, now time.Time) string

	// Summary describes the warning in general, as a sentence fragment that
	// reads naturally after a count ("3 tasks have lost their wakers").
	Summary() string
}

// Linter tracks which entities currently hold one warning.
type Linter[T any] struct {
	warner  Warner[T]
	holders map[uint64]struct{}
	logger  *zap.Logger
}

// NewLinter wraps w.
func NewLinter[T any](w Warner[T], logger *zap.Logger) *Linter[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linter[T]{
		warner:  w,
		holders: make(map[uint64]struct{}),
		logger:  logger,
	}
}

// Check evaluates the warning for the entity identified by key and updates
// the holder set: Warn adds key, Ok removes it, Recheck leaves it alone.
func (l *Linter[T]) Check(key uint64, val T, now time.Time) Warning {
	result := l.warner.Check(val, now)
	switch result {
	case Warn:
		l.holders[key] = struct{}{}
	case Ok:
		delete(l.holders, key)
	}
	return result
}

// Holds reports whether key currently holds this warning.
func (l *Linter[T]) Holds(key uint64) bool {
	_, ok := l.holders[key]
	return ok
}

// Release drops key's hold on this warning.
func (l *Linter[T]) Release(key uint64) {
	delete(l.holders, key)
}

// Count returns the number of entities that currently hold this warning.
func (l *Linter[T]) Count() int {
	return len(l.holders)
}

// Format describes the warning for val.
func (l *Linter[T]) Format(val T, now time.Time) string {
	if r := l.warner.Check(val, now); r != Warn {
		l.logger.Debug("formatting a warning that does not apply",
			zap.String("lint", l.warner.Name()),
			zap.Stringer("result", r),
		)
	}
	return l.warner.Format(val, now)
}

// Summary describes the warning in general.
func (l *Linter[T]) Summary() string {
	return l.warner.Summary()
}

// Name returns the wrapped warning's name.
func (l *Linter[T]) Name() string {
	return l.warner.Name()
}
