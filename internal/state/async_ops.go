package state

import (
	"iter"
	"maps"
	"time"

	"github.com/fentz26/lookout/internal/intern"
	"github.com/fentz26/lookout/internal/wire"
	"go.uber.org/zap"
)

// AsyncOp is one asynchronous operation performed on a resource.
type AsyncOp struct {
	id         Id[AsyncOp]
	parentID   intern.Str
	resourceID Id[Resource]
	metaID     uint64
	source     intern.Str
	stats      asyncOpStats
}

type asyncOpStats struct {
	timings             Timings
	polls               uint64
	taskID              Id[Task]
	hasTaskID           bool
	taskIDStr           intern.Str
	formattedAttributes []string
}

func asyncOpStatsFromProto(pb *wire.AsyncOpStats, meta *Metadata, strs *intern.Strings, taskIDs *Ids[Task], logger *zap.Logger) (asyncOpStats, bool) {
	if pb == nil {
		return asyncOpStats{}, false
	}
	createdAt, ok := timeFromProto(pb.CreatedAt)
	if !ok {
		return asyncOpStats{}, false
	}
	poll := pollStatsFromProto(pb.PollStats)
	stats := asyncOpStats{
		timings:             poll.timings(createdAt, optionalTime(pb.DroppedAt)),
		polls:               poll.polls,
		formattedAttributes: formatAttributes(attributesFromProto(pb.Attributes, meta, strs, logger)),
	}
	if pb.TaskID != nil {
		stats.taskID = taskIDs.IdFor(pb.TaskID.ID)
		stats.hasTaskID = true
		stats.taskIDStr = strs.Intern(stats.taskID.String())
	} else {
		stats.taskIDStr = strs.Intern(notApplicable)
	}
	return stats, true
}

// AsyncOps holds every monitored async op.
type AsyncOps struct {
	ops           *Store[AsyncOp]
	droppedEvents uint64
	logger        *zap.Logger
}

func newAsyncOps(logger *zap.Logger) *AsyncOps {
	return &AsyncOps{ops: NewStore[AsyncOp](), logger: logger}
}

// Update applies one async op update batch. Resource and task references are
// translated through the given id spaces, allocating ids for entities that
// have not been seen yet.
func (as *AsyncOps) Update(strs *intern.Strings, metas map[uint64]*Metadata, update *wire.AsyncOpUpdate, resourceIDs *Ids[Resource], taskIDs *Ids[Task], visibility Visibility) {
	if update == nil {
		return
	}
	stats := maps.Clone(update.StatsUpdate)

	InsertWith(as.ops, visibility, update.NewAsyncOps, func(ids *Ids[AsyncOp], pb wire.AsyncOp) (Id[AsyncOp], *AsyncOp, bool) {
		if pb.ID == nil {
			as.logger.Warn("skipping async op with no id")
			return 0, nil, false
		}
		spanID := pb.ID.ID
		if pb.Metadata == nil {
			as.logger.Warn("async op has no metadata id, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		meta, ok := metas[pb.Metadata.ID]
		if !ok {
			as.logger.Warn("no metadata for async op, skipping",
				zap.Uint64("span_id", spanID), zap.Uint64("meta_id", pb.Metadata.ID))
			return 0, nil, false
		}
		if pb.ResourceID == nil {
			as.logger.Warn("async op has no resource id, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		opStats, ok := asyncOpStatsFromProto(stats[spanID], meta, strs, taskIDs, as.logger)
		if !ok {
			as.logger.Warn("no valid stats for new async op, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		delete(stats, spanID)

		id := ids.IdFor(spanID)
		parentID := strs.Intern(notApplicable)
		if pb.ParentAsyncOpID != nil {
			parentID = strs.Intern(ids.IdFor(pb.ParentAsyncOpID.ID).String())
		}
		return id, &AsyncOp{
			id:         id,
			parentID:   parentID,
			resourceID: resourceIDs.IdFor(pb.ResourceID.ID),
			metaID:     meta.id,
			source:     strs.Intern(pb.Source),
			stats:      opStats,
		}, true
	})

	for pb, op := range Updated(as.ops, stats) {
		meta, ok := metas[op.metaID]
		if !ok {
			continue
		}
		opStats, ok := asyncOpStatsFromProto(pb, meta, strs, taskIDs, as.logger)
		if !ok {
			as.logger.Warn("skipping malformed async op stats", zap.Stringer("id", op.id))
			continue
		}
		op.stats = opStats
	}

	as.droppedEvents += update.DroppedEvents
}

// RetainActive evicts async ops that completed more than retainFor ago.
func (as *AsyncOps) RetainActive(now time.Time, retainFor time.Duration) {
	as.ops.Retain(func(_ Id[AsyncOp], op *AsyncOp) bool {
		droppedAt, dropped := op.stats.timings.DroppedAt()
		return !dropped || since(now, droppedAt) < retainFor
	})
}

// TakeNew drains async ops inserted since the previous call.
func (as *AsyncOps) TakeNew() []Ref[AsyncOp] { return as.ops.TakeNewItems() }

// Refs yields a weak reference to every async op.
func (as *AsyncOps) Refs() iter.Seq[Ref[AsyncOp]] { return as.ops.Refs() }

// Get returns the async op with the given id.
func (as *AsyncOps) Get(id Id[AsyncOp]) (*AsyncOp, bool) { return as.ops.Get(id) }

// Len returns the number of async ops.
func (as *AsyncOps) Len() int { return as.ops.Len() }

// DroppedEvents returns the number of async op events the feed reported
// dropping.
func (as *AsyncOps) DroppedEvents() uint64 { return as.droppedEvents }

func (op *AsyncOp) ID() Id[AsyncOp] { return op.id }

// ParentID returns the parent async op's id as text, or "n/a".
func (op *AsyncOp) ParentID() string { return op.parentID.String() }

func (op *AsyncOp) ResourceID() Id[Resource] { return op.resourceID }

// TaskID returns the task currently awaiting the op, if any.
func (op *AsyncOp) TaskID() (Id[Task], bool) { return op.stats.taskID, op.stats.hasTaskID }

// TaskIDString returns the awaiting task's id as text, or "n/a".
func (op *AsyncOp) TaskIDString() string { return op.stats.taskIDStr.String() }

func (op *AsyncOp) Source() string { return op.source.String() }

func (op *AsyncOp) Total(now time.Time) time.Duration { return op.stats.timings.Total(now) }

func (op *AsyncOp) Busy(now time.Time) time.Duration { return op.stats.timings.Busy(now) }

func (op *AsyncOp) Idle(now time.Time) time.Duration { return op.stats.timings.Idle(now) }

func (op *AsyncOp) TotalPolls() uint64 { return op.stats.polls }

func (op *AsyncOp) Dropped() bool { return op.stats.timings.Dropped() }

// FormattedAttributes returns the op's attributes as "name=value<unit>",
// ordered by name.
func (op *AsyncOp) FormattedAttributes() []string { return op.stats.formattedAttributes }
