// Package wire defines the update records the feed decodes and hands to the
// state package.
//
// The records mirror the instrumentation protocol: every optional field is a
// pointer so that an absent value can be told apart from a zero value, and
// instants and durations use the protobuf well-known types.
package wire

import (
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Id is a remote span id.
type Id struct {
	ID uint64 `json:"id"`
}

// MetaId identifies a registered metadata record.
type MetaId struct {
	ID uint64 `json:"id"`
}

// Location is a source location reported by the instrumented program.
type Location struct {
	File       *string `json:"file,omitempty"`
	ModulePath *string `json:"module_path,omitempty"`
	Line       *uint32 `json:"line,omitempty"`
	Column     *uint32 `json:"column,omitempty"`
}

// MetadataKind distinguishes span metadata from event metadata.
type MetadataKind int32

const (
	MetadataKindSpan  MetadataKind = 0
	MetadataKindEvent MetadataKind = 1
)

// Metadata describes a span or event callsite.
type Metadata struct {
	Name       string       `json:"name"`
	Target     string       `json:"target"`
	Location   *Location    `json:"location,omitempty"`
	Kind       MetadataKind `json:"kind"`
	FieldNames []string     `json:"field_names,omitempty"`
}

// NewMetadata carries metadata registered since the previous update.
type NewMetadata struct {
	ID       *MetaId   `json:"id,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Field is a key/value pair recorded on a span. Exactly one of the value
// fields is expected to be set.
type Field struct {
	Name       *string `json:"name,omitempty"`
	NameIdx    *uint64 `json:"name_idx,omitempty"`
	MetadataID *MetaId `json:"metadata_id,omitempty"`

	DebugVal *string `json:"debug_val,omitempty"`
	StrVal   *string `json:"str_val,omitempty"`
	U64Val   *uint64 `json:"u64_val,omitempty"`
	I64Val   *int64  `json:"i64_val,omitempty"`
	BoolVal  *bool   `json:"bool_val,omitempty"`
}

// Attribute is a field annotated with an optional unit.
type Attribute struct {
	Field *Field  `json:"field,omitempty"`
	Unit  *string `json:"unit,omitempty"`
}

// PollStats accumulates poll activity for a task or async op.
type PollStats struct {
	Polls           uint64                 `json:"polls"`
	FirstPoll       *timestamppb.Timestamp `json:"first_poll,omitempty"`
	LastPollStarted *timestamppb.Timestamp `json:"last_poll_started,omitempty"`
	LastPollEnded   *timestamppb.Timestamp `json:"last_poll_ended,omitempty"`
	BusyTime        *durationpb.Duration   `json:"busy_time,omitempty"`
}

// Update is one batch from the instrumentation feed.
type Update struct {
	Now            *timestamppb.Timestamp `json:"now,omitempty"`
	NewMetadata    []NewMetadata          `json:"new_metadata,omitempty"`
	TaskUpdate     *TaskUpdate            `json:"task_update,omitempty"`
	ResourceUpdate *ResourceUpdate        `json:"resource_update,omitempty"`
	AsyncOpUpdate  *AsyncOpUpdate         `json:"async_op_update,omitempty"`
	TaskDetails    []TaskDetails          `json:"task_details,omitempty"`
}

// TaskKind is the runtime's classification of a task.
type TaskKind int32

const (
	TaskKindSpawn    TaskKind = 0
	TaskKindBlocking TaskKind = 1
)

// Task is a newly observed task.
type Task struct {
	ID       *Id       `json:"id,omitempty"`
	Metadata *MetaId   `json:"metadata,omitempty"`
	Kind     TaskKind  `json:"kind"`
	Fields   []Field   `json:"fields,omitempty"`
	Parents  []Id      `json:"parents,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// TaskStats is a stats snapshot for one task.
type TaskStats struct {
	CreatedAt     *timestamppb.Timestamp `json:"created_at,omitempty"`
	DroppedAt     *timestamppb.Timestamp `json:"dropped_at,omitempty"`
	Wakes         uint64                 `json:"wakes"`
	WakerClones   uint64                 `json:"waker_clones"`
	WakerDrops    uint64                 `json:"waker_drops"`
	LastWake      *timestamppb.Timestamp `json:"last_wake,omitempty"`
	PollStats     *PollStats             `json:"poll_stats,omitempty"`
	SelfWakes     uint64                 `json:"self_wakes"`
	ScheduledTime *durationpb.Duration   `json:"scheduled_time,omitempty"`
}

// TaskUpdate carries new tasks and stats for tasks that changed.
type TaskUpdate struct {
	NewTasks      []Task                `json:"new_tasks,omitempty"`
	StatsUpdate   map[uint64]*TaskStats `json:"stats_update,omitempty"`
	DroppedEvents uint64                `json:"dropped_events"`
}

// ResourceKind is either a well-known kind or a free-form name.
type ResourceKind struct {
	Known *int32  `json:"known,omitempty"`
	Other *string `json:"other,omitempty"`
}

// Known resource kinds.
const (
	ResourceKindTimer int32 = 0
)

// Resource is a newly observed resource.
type Resource struct {
	ID               *Id           `json:"id,omitempty"`
	Kind             *ResourceKind `json:"kind,omitempty"`
	Metadata         *MetaId       `json:"metadata,omitempty"`
	ConcreteType     string        `json:"concrete_type"`
	Location         *Location     `json:"location,omitempty"`
	IsInternal       bool          `json:"is_internal"`
	ParentResourceID *Id           `json:"parent_resource_id,omitempty"`
}

// ResourceStats is a stats snapshot for one resource.
type ResourceStats struct {
	CreatedAt  *timestamppb.Timestamp `json:"created_at,omitempty"`
	DroppedAt  *timestamppb.Timestamp `json:"dropped_at,omitempty"`
	Attributes []Attribute            `json:"attributes,omitempty"`
}

// ResourceUpdate carries new resources and stats for resources that changed.
type ResourceUpdate struct {
	NewResources  []Resource                `json:"new_resources,omitempty"`
	StatsUpdate   map[uint64]*ResourceStats `json:"stats_update,omitempty"`
	DroppedEvents uint64                    `json:"dropped_events"`
}

// AsyncOp is a newly observed async operation.
type AsyncOp struct {
	ID              *Id     `json:"id,omitempty"`
	Metadata        *MetaId `json:"metadata,omitempty"`
	Source          string  `json:"source"`
	ParentAsyncOpID *Id     `json:"parent_async_op_id,omitempty"`
	ResourceID      *Id     `json:"resource_id,omitempty"`
}

// AsyncOpStats is a stats snapshot for one async op.
type AsyncOpStats struct {
	PollStats  *PollStats             `json:"poll_stats,omitempty"`
	CreatedAt  *timestamppb.Timestamp `json:"created_at,omitempty"`
	DroppedAt  *timestamppb.Timestamp `json:"dropped_at,omitempty"`
	TaskID     *Id                    `json:"task_id,omitempty"`
	Attributes []Attribute            `json:"attributes,omitempty"`
}

// AsyncOpUpdate carries new async ops and stats for async ops that changed.
type AsyncOpUpdate struct {
	NewAsyncOps   []AsyncOp                `json:"new_async_ops,omitempty"`
	StatsUpdate   map[uint64]*AsyncOpStats `json:"stats_update,omitempty"`
	DroppedEvents uint64                   `json:"dropped_events"`
}

// TaskDetails carries the poll and scheduling time distributions of one task.
type TaskDetails struct {
	TaskID                  *Id                    `json:"task_id,omitempty"`
	Now                     *timestamppb.Timestamp `json:"now,omitempty"`
	PollTimesHistogram      *DurationHistogram     `json:"poll_times_histogram,omitempty"`
	ScheduledTimesHistogram *DurationHistogram     `json:"scheduled_times_histogram,omitempty"`
}

// DurationHistogram is an HDR histogram snapshot of durations in
// nanoseconds. Samples above the histogram's range are only counted in
// HighOutliers.
type DurationHistogram struct {
	LowestTrackableValue  int64   `json:"lowest_trackable_value"`
	HighestTrackableValue int64   `json:"highest_trackable_value"`
	SignificantFigures    int64   `json:"significant_figures"`
	Counts                []int64 `json:"counts"`
	MaxValue              uint64  `json:"max_value"`
	HighOutliers          uint64  `json:"high_outliers"`
	HighestOutlier        *uint64 `json:"highest_outlier,omitempty"`
}
