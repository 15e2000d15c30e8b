package state

import (
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/fentz26/lookout/internal/intern"
	"github.com/fentz26/lookout/internal/warnings"
	"github.com/fentz26/lookout/internal/wire"
	"go.uber.org/zap"
)

// TaskState is the scheduling state of a task.
type TaskState int

const (
	TaskRunning TaskState = iota
	TaskScheduled
	TaskIdle
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskScheduled:
		return "scheduled"
	case TaskIdle:
		return "idle"
	case TaskCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Icon returns a one-character rendering of the state.
func (s TaskState) Icon() string {
	switch s {
	case TaskRunning:
		return "▶"
	case TaskScheduled:
		return "↑"
	case TaskIdle:
		return "⏸"
	case TaskCompleted:
		return "⏹"
	default:
		return "?"
	}
}

// Task is a monitored task.
type Task struct {
	id       Id[Task]
	spanID   uint64
	metaID   uint64
	taskID   uint64
	hasID    bool
	name     intern.Str
	kind     intern.Str
	blocking bool
	target   intern.Str
	location intern.Str

	sizeBytes            uint64
	hasSizeBytes         bool
	originalSizeBytes    uint64
	hasOriginalSizeBytes bool

	formattedFields []string
	stats           taskStats
	warnings        []*warnings.Linter[warnings.Task]
}

type taskStats struct {
	timings     Timings
	polls       uint64
	wakes       uint64
	wakerClones uint64
	wakerDrops  uint64
	selfWakes   uint64
	lastWake    time.Time
	scheduled   time.Duration
}

func taskStatsFromProto(pb *wire.TaskStats) (taskStats, bool) {
	if pb == nil {
		return taskStats{}, false
	}
	createdAt, ok := timeFromProto(pb.CreatedAt)
	if !ok {
		return taskStats{}, false
	}
	poll := pollStatsFromProto(pb.PollStats)
	return taskStats{
		timings:     poll.timings(createdAt, optionalTime(pb.DroppedAt)),
		polls:       poll.polls,
		wakes:       pb.Wakes,
		wakerClones: pb.WakerClones,
		wakerDrops:  pb.WakerDrops,
		selfWakes:   pb.SelfWakes,
		lastWake:    optionalTime(pb.LastWake),
		scheduled:   durationFromProto(pb.ScheduledTime),
	}, true
}

// Tasks holds every monitored task and the task lints.
type Tasks struct {
	tasks         *Store[Task]
	linters       []*warnings.Linter[warnings.Task]
	pendingLint   map[Id[Task]]struct{}
	droppedEvents uint64
	logger        *zap.Logger
}

func newTasks(linters []*warnings.Linter[warnings.Task], logger *zap.Logger) *Tasks {
	return &Tasks{
		tasks:       NewStore[Task](),
		linters:     linters,
		pendingLint: make(map[Id[Task]]struct{}),
		logger:      logger,
	}
}

// Update applies one task update batch.
func (ts *Tasks) Update(now time.Time, strs *intern.Strings, metas map[uint64]*Metadata, update *wire.TaskUpdate, visibility Visibility) {
	if update == nil {
		// Pending tasks are rechecked on every batch, with or without stats.
		update = &wire.TaskUpdate{}
	}
	stats := maps.Clone(update.StatsUpdate)
	nextPending := make(map[Id[Task]]struct{})

	InsertWith(ts.tasks, visibility, update.NewTasks, func(ids *Ids[Task], pb wire.Task) (Id[Task], *Task, bool) {
		if pb.ID == nil {
			ts.logger.Warn("skipping task with no id")
			return 0, nil, false
		}
		spanID := pb.ID.ID
		if pb.Metadata == nil {
			ts.logger.Warn("task has no metadata id, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		meta, ok := metas[pb.Metadata.ID]
		if !ok {
			ts.logger.Warn("no metadata for task, skipping",
				zap.Uint64("span_id", spanID), zap.Uint64("meta_id", pb.Metadata.ID))
			return 0, nil, false
		}
		taskStats, ok := taskStatsFromProto(stats[spanID])
		if !ok {
			ts.logger.Debug("no valid stats for new task, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		delete(stats, spanID)

		id := ids.IdFor(spanID)
		if prev, ok := ts.tasks.Get(id); ok {
			prev.releaseWarnings()
		}
		task := &Task{
			id:       id,
			spanID:   spanID,
			metaID:   meta.id,
			kind:     strs.Intern("task"),
			blocking: pb.Kind == wire.TaskKindBlocking,
			target:   meta.target,
			stats:    taskStats,
		}
		if pb.Location != nil {
			task.location = strs.Intern(formatLocation(pb.Location))
		} else {
			task.location = meta.location
		}
		task.applyFields(pb.Fields, meta, strs, ts.logger)

		if task.lint(ts.linters, now) {
			nextPending[task.id] = struct{}{}
		}
		return task.id, task, true
	})

	for pb, task := range Updated(ts.tasks, stats) {
		taskStats, ok := taskStatsFromProto(pb)
		if !ok {
			ts.logger.Warn("skipping malformed task stats", zap.Uint64("span_id", task.spanID))
			continue
		}
		task.stats = taskStats
		if task.lint(ts.linters, now) {
			nextPending[task.id] = struct{}{}
		}
	}

	for id := range ts.pendingLint {
		if _, done := nextPending[id]; done {
			continue
		}
		if task, ok := ts.tasks.Get(id); ok && task.lint(ts.linters, now) {
			nextPending[id] = struct{}{}
		}
	}
	ts.pendingLint = nextPending

	ts.droppedEvents += update.DroppedEvents
}

// RetainActive evicts tasks that completed more than retainFor ago.
func (ts *Tasks) RetainActive(now time.Time, retainFor time.Duration) {
	ts.tasks.Retain(func(id Id[Task], task *Task) bool {
		droppedAt, dropped := task.stats.timings.DroppedAt()
		if !dropped || since(now, droppedAt) < retainFor {
			return true
		}
		task.releaseWarnings()
		delete(ts.pendingLint, id)
		return false
	})
}

// TakeNew drains tasks inserted since the previous call.
func (ts *Tasks) TakeNew() []Ref[Task] { return ts.tasks.TakeNewItems() }

// Refs yields a weak reference to every task.
func (ts *Tasks) Refs() iter.Seq[Ref[Task]] { return ts.tasks.Refs() }

// Get returns the task with the given id.
func (ts *Tasks) Get(id Id[Task]) (*Task, bool) { return ts.tasks.Get(id) }

// Len returns the number of tasks.
func (ts *Tasks) Len() int { return ts.tasks.Len() }

// Ids returns the task id mapping.
func (ts *Tasks) Ids() *Ids[Task] { return ts.tasks.Ids() }

// Linters returns the task lint registry.
func (ts *Tasks) Linters() []*warnings.Linter[warnings.Task] { return ts.linters }

// DroppedEvents returns the number of task events the feed reported dropping.
func (ts *Tasks) DroppedEvents() uint64 { return ts.droppedEvents }

// applyFields pulls the well-known fields out of the span fields and formats
// the rest.
func (t *Task) applyFields(pbs []wire.Field, meta *Metadata, strs *intern.Strings, logger *zap.Logger) {
	var rest []Field
	for _, pb := range pbs {
		field, ok := fieldFromProto(pb, meta, strs, logger)
		if !ok {
			continue
		}
		switch field.Name() {
		case fieldTaskName:
			t.name = strs.Intern(field.value.String())
		case fieldTaskID:
			t.taskID, t.hasID = field.value.U64()
		case fieldKind:
			t.kind = strs.Intern(field.value.String())
			if k := t.kind.String(); k == "blocking" || k == "block_in_place" {
				t.blocking = true
			}
		case fieldSizeBytes:
			t.sizeBytes, t.hasSizeBytes = field.value.U64()
		case fieldOriginalSizeBytes:
			t.originalSizeBytes, t.hasOriginalSizeBytes = field.value.U64()
		default:
			rest = append(rest, field)
		}
	}
	slices.SortStableFunc(rest, func(a, b Field) int { return intern.Compare(a.name, b.name) })
	t.formattedFields = make([]string, 0, len(rest))
	for _, f := range rest {
		t.formattedFields = append(t.formattedFields, f.String())
	}
}

// lint re-evaluates every linter and reports whether any asked for a recheck.
func (t *Task) lint(linters []*warnings.Linter[warnings.Task], now time.Time) bool {
	recheck := false
	key := uint64(t.id)
	for _, l := range linters {
		switch l.Check(key, t, now) {
		case warnings.Warn:
			if !slices.Contains(t.warnings, l) {
				t.warnings = append(t.warnings, l)
			}
		case warnings.Ok:
			t.warnings = slices.DeleteFunc(t.warnings, func(held *warnings.Linter[warnings.Task]) bool {
				return held == l
			})
		case warnings.Recheck:
			recheck = true
		}
	}
	return recheck
}

func (t *Task) releaseWarnings() {
	for _, l := range t.warnings {
		l.Release(uint64(t.id))
	}
	t.warnings = nil
}

// ID returns the local id.
func (t *Task) ID() Id[Task] { return t.id }

// SpanID returns the remote span id.
func (t *Task) SpanID() uint64 { return t.spanID }

// TaskID returns the runtime-assigned task id, when the runtime reports one.
func (t *Task) TaskID() (uint64, bool) { return t.taskID, t.hasID }

// Name returns the task's name, or "" if it has none.
func (t *Task) Name() string { return t.name.String() }

// Kind returns the task kind ("task", "blocking", ...).
func (t *Task) Kind() string { return t.kind.String() }

// Target returns the span target.
func (t *Task) Target() string { return t.target.String() }

// Location returns where the task was spawned.
func (t *Task) Location() string { return t.location.String() }

// FormattedFields returns the remaining span fields as "name=value".
func (t *Task) FormattedFields() []string { return t.formattedFields }

// Warnings returns the linters that currently apply to this task.
func (t *Task) Warnings() []*warnings.Linter[warnings.Task] { return t.warnings }

// State returns the scheduling state.
func (t *Task) State() TaskState {
	switch {
	case t.IsCompleted():
		return TaskCompleted
	case t.IsRunning():
		return TaskRunning
	case t.IsAwakened():
		return TaskScheduled
	default:
		return TaskIdle
	}
}

// IsBlocking reports whether the task runs on a blocking thread.
func (t *Task) IsBlocking() bool { return t.blocking }

// IsCompleted reports whether the task has been dropped.
func (t *Task) IsCompleted() bool { return t.stats.timings.Dropped() }

// IsRunning reports whether the task is currently being polled.
func (t *Task) IsRunning() bool { return t.stats.timings.InPoll() }

// IsAwakened reports whether the task was woken after its last poll started.
func (t *Task) IsAwakened() bool {
	if t.stats.lastWake.IsZero() {
		return false
	}
	started, ok := t.stats.timings.LastPollStarted()
	return !ok || t.stats.lastWake.After(started)
}

// Total returns the task's lifetime as of now.
func (t *Task) Total(now time.Time) time.Duration { return t.stats.timings.Total(now) }

// Busy returns the time spent being polled as of now.
func (t *Task) Busy(now time.Time) time.Duration { return t.stats.timings.Busy(now) }

// Idle returns the time spent not being polled as of now.
func (t *Task) Idle(now time.Time) time.Duration { return t.stats.timings.Idle(now) }

// Scheduled returns the time spent waiting to be polled after a wake.
func (t *Task) Scheduled(now time.Time) time.Duration {
	if !t.IsCompleted() && t.IsAwakened() {
		return t.stats.scheduled + since(now, t.stats.lastWake)
	}
	return t.stats.scheduled
}

// CreatedAt returns when the task was spawned.
func (t *Task) CreatedAt() time.Time { return t.stats.timings.CreatedAt() }

// TotalPolls returns the number of times the task was polled.
func (t *Task) TotalPolls() uint64 { return t.stats.polls }

// Wakes returns the number of times the task was woken.
func (t *Task) Wakes() uint64 { return t.stats.wakes }

// SelfWakes returns the number of times the task woke itself.
func (t *Task) SelfWakes() uint64 { return t.stats.selfWakes }

// WakerClones returns the number of times the task's waker was cloned.
func (t *Task) WakerClones() uint64 { return t.stats.wakerClones }

// WakerDrops returns the number of times a clone of the task's waker was
// dropped.
func (t *Task) WakerDrops() uint64 { return t.stats.wakerDrops }

// WakerCount returns the number of live wakers.
func (t *Task) WakerCount() uint64 {
	if t.stats.wakerDrops > t.stats.wakerClones {
		return 0
	}
	return t.stats.wakerClones - t.stats.wakerDrops
}

// SelfWakePercent returns the share of wakes that were self wakes.
func (t *Task) SelfWakePercent() uint64 {
	if t.stats.wakes == 0 {
		return 0
	}
	return t.stats.selfWakes * 100 / t.stats.wakes
}

// LastWake returns when the task was last woken, if ever.
func (t *Task) LastWake() (time.Time, bool) {
	return t.stats.lastWake, !t.stats.lastWake.IsZero()
}

// SizeBytes returns the size of the task's future, when reported.
func (t *Task) SizeBytes() (uint64, bool) { return t.sizeBytes, t.hasSizeBytes }

// OriginalSizeBytes returns the size of the future before any boxing, when
// reported.
func (t *Task) OriginalSizeBytes() (uint64, bool) {
	return t.originalSizeBytes, t.hasOriginalSizeBytes
}
