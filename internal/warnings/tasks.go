package warnings

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Task is the view of a monitored task that the task lints need.
type Task interface {
	IsBlocking() bool
	IsCompleted() bool
	IsRunning() bool
	IsAwakened() bool
	WakerCount() uint64
	SelfWakePercent() uint64
	TotalPolls() uint64
	Busy(now time.Time) time.Duration
	SizeBytes() (uint64, bool)
	OriginalSizeBytes() (uint64, bool)
}

// Rule names, as used in configuration.
const (
	SelfWakePercentName = "self-wake-percent"
	LostWakerName       = "lost-waker"
	NeverYieldedName    = "never-yielded"
	AutoBoxedFutureName = "auto-boxed-future"
	LargeFutureName     = "large-future"
)

// SelfWakePercent warns about tasks that wake themselves more than a given
// percentage of the time.
type SelfWakePercent struct {
	minPercent  uint64
	description string
}

// DefaultSelfWakePercent is the default threshold for SelfWakePercent.
const DefaultSelfWakePercent = 50

// NewSelfWakePercent creates the lint with the given threshold.
func NewSelfWakePercent(minPercent uint64) *SelfWakePercent {
	return &SelfWakePercent{
		minPercent:  minPercent,
		description: fmt.Sprintf("tasks have woken themselves over %d%% of the time", minPercent),
	}
}

func (*SelfWakePercent) Name() string { return SelfWakePercentName }

func (w *SelfWakePercent) Summary() string { return w.description }

func (w *SelfWakePercent) Check(task Task, _ time.Time) Warning {
	if task.IsBlocking() {
		return Ok
	}
	if task.SelfWakePercent() > w.minPercent {
		return Warn
	}
	return Ok
}

func (w *SelfWakePercent) Format(task Task, _ time.Time) string {
	return fmt.Sprintf("This task has woken itself for more than %d%% of its total wakeups (%d%%)",
		w.minPercent, task.SelfWakePercent())
}

// LostWaker warns about tasks that can never be woken again.
type LostWaker struct{}

func (LostWaker) Name() string { return LostWakerName }

func (LostWaker) Summary() string { return "tasks have lost their wakers" }

func (LostWaker) Check(task Task, _ time.Time) Warning {
	if task.IsBlocking() {
		return Ok
	}
	if !task.IsCompleted() && task.WakerCount() == 0 && !task.IsRunning() && !task.IsAwakened() {
		return Warn
	}
	return Ok
}

func (LostWaker) Format(Task, time.Time) string {
	return "This task has lost its waker, and will never be woken again."
}

// NeverYielded warns about tasks stuck in their first poll for longer than a
// threshold.
type NeverYielded struct {
	minDuration time.Duration
	description string
}

// DefaultNeverYielded is the default threshold for NeverYielded.
const DefaultNeverYielded = time.Second

// NewNeverYielded creates the lint with the given threshold.
func NewNeverYielded(minDuration time.Duration) *NeverYielded {
	return &NeverYielded{
		minDuration: minDuration,
		description: fmt.Sprintf("tasks have never yielded (threshold %dms)", minDuration.Milliseconds()),
	}
}

func (*NeverYielded) Name() string { return NeverYieldedName }

func (w *NeverYielded) Summary() string { return w.description }

func (w *NeverYielded) Check(task Task, now time.Time) Warning {
	if task.IsBlocking() {
		return Ok
	}
	// Only tasks inside a poll can be stuck in one.
	if task.IsCompleted() || !task.IsRunning() {
		return Ok
	}
	if task.TotalPolls() > 1 {
		return Ok
	}
	// Short first polls are normal; wait until the threshold has passed.
	if task.Busy(now) >= w.minDuration {
		return Warn
	}
	return Recheck
}

func (w *NeverYielded) Format(task Task, now time.Time) string {
	return fmt.Sprintf("This task has never yielded (%s)", task.Busy(now))
}

// AutoBoxedFuture warns about tasks whose future the runtime boxed because of
// its size.
type AutoBoxedFuture struct{}

func (AutoBoxedFuture) Name() string { return AutoBoxedFutureName }

func (AutoBoxedFuture) Summary() string {
	return "tasks have been boxed by the runtime due to their size"
}

func (AutoBoxedFuture) Check(task Task, _ time.Time) Warning {
	size, ok := task.SizeBytes()
	if !ok {
		return Ok
	}
	original, ok := task.OriginalSizeBytes()
	if !ok {
		return Ok
	}
	if original != size {
		return Warn
	}
	return Ok
}

func (AutoBoxedFuture) Format(task Task, _ time.Time) string {
	size, _ := task.SizeBytes()
	original, _ := task.OriginalSizeBytes()
	return fmt.Sprintf("This task's future was auto-boxed by the runtime when spawning, due to its size (originally %d bytes, boxed size %d bytes)",
		original, size)
}

// LargeFuture warns about tasks whose future occupies at least a given
// number of bytes.
type LargeFuture struct {
	minSize     uint64
	description string
}

// DefaultLargeFutureBytes is the default threshold for LargeFuture.
const DefaultLargeFutureBytes = 1024

// NewLargeFuture creates the lint with the given threshold.
func NewLargeFuture(minSize uint64) *LargeFuture {
	return &LargeFuture{
		minSize:     minSize,
		description: fmt.Sprintf("tasks are %d bytes or larger", minSize),
	}
}

func (*LargeFuture) Name() string { return LargeFutureName }

func (w *LargeFuture) Summary() string { return w.description }

func (w *LargeFuture) Check(task Task, _ time.Time) Warning {
	if task.IsBlocking() {
		return Ok
	}
	if size, ok := task.SizeBytes(); ok && size >= w.minSize {
		return Warn
	}
	return Ok
}

func (w *LargeFuture) Format(task Task, _ time.Time) string {
	size, _ := task.SizeBytes()
	return fmt.Sprintf("This task occupies a large amount of stack space (%d bytes)", size)
}

// TaskOptions configures the default task lints.
type TaskOptions struct {
	SelfWakePercent  uint64
	NeverYielded     time.Duration
	LargeFutureBytes uint64
	// Disabled lists rule names to leave out.
	Disabled []string
}

// DefaultTaskOptions returns the thresholds used when nothing is configured.
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{
		SelfWakePercent:  DefaultSelfWakePercent,
		NeverYielded:     DefaultNeverYielded,
		LargeFutureBytes: DefaultLargeFutureBytes,
	}
}

// TaskLinters builds the task lint registry.
func TaskLinters(opts TaskOptions, logger *zap.Logger) []*Linter[Task] {
	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}

	all := []Warner[Task]{
		NewSelfWakePercent(opts.SelfWakePercent),
		LostWaker{},
		NewNeverYielded(opts.NeverYielded),
		AutoBoxedFuture{},
		NewLargeFuture(opts.LargeFutureBytes),
	}
	linters := make([]*Linter[Task], 0, len(all))
	for _, w := range all {
		if disabled[w.Name()] {
			continue
		}
		linters = append(linters, NewLinter(w, logger))
	}
	return linters
}

// TaskRuleNames lists every known task rule.
func TaskRuleNames() []string {
	return []string{SelfWakePercentName, LostWakerName, NeverYieldedName, AutoBoxedFutureName, LargeFutureName}
}
