package state

import (
	"time"

	"github.com/fentz26/lookout/internal/wire"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Timings is the raw timing snapshot of an entity. Only timestamps and the
// accumulated busy time are stored; live figures are derived on read from a
// caller-supplied instant, so that no background ticker is needed and every
// read within one frame agrees.
type Timings struct {
	createdAt       time.Time
	droppedAt       time.Time
	busy            time.Duration
	lastPollStarted time.Time
	lastPollEnded   time.Time

	// Valid only once dropped.
	total time.Duration
	idle  time.Duration
}

// NewTimings builds a snapshot. Zero times mean "absent".
func NewTimings(createdAt, droppedAt time.Time, busy time.Duration, lastPollStarted, lastPollEnded time.Time) Timings {
	t := Timings{
		createdAt:       createdAt,
		droppedAt:       droppedAt,
		busy:            busy,
		lastPollStarted: lastPollStarted,
		lastPollEnded:   lastPollEnded,
	}
	if !droppedAt.IsZero() {
		t.total = since(droppedAt, createdAt)
		t.idle = max(t.total-busy, 0)
	}
	return t
}

// CreatedAt returns when the entity was created.
func (t Timings) CreatedAt() time.Time {
	return t.createdAt
}

// DroppedAt returns when the entity completed, if it has.
func (t Timings) DroppedAt() (time.Time, bool) {
	return t.droppedAt, !t.droppedAt.IsZero()
}

// Dropped reports whether the entity has completed.
func (t Timings) Dropped() bool {
	return !t.droppedAt.IsZero()
}

// InPoll reports whether a poll has started without a matching end.
func (t Timings) InPoll() bool {
	if t.lastPollStarted.IsZero() {
		return false
	}
	return t.lastPollEnded.IsZero() || t.lastPollEnded.Before(t.lastPollStarted)
}

// LastPollStarted returns the start of the most recent poll, if any.
func (t Timings) LastPollStarted() (time.Time, bool) {
	return t.lastPollStarted, !t.lastPollStarted.IsZero()
}

// Total returns the entity's lifetime as of now.
func (t Timings) Total(now time.Time) time.Duration {
	if t.Dropped() {
		return t.total
	}
	return since(now, t.createdAt)
}

// Busy returns the time spent being polled as of now, including the current
// poll if one is in progress.
func (t Timings) Busy(now time.Time) time.Duration {
	if !t.Dropped() && t.InPoll() {
		return t.busy + since(now, t.lastPollStarted)
	}
	return t.busy
}

// Idle returns the time spent not being polled as of now.
func (t Timings) Idle(now time.Time) time.Duration {
	if t.Dropped() {
		return t.idle
	}
	return max(t.Total(now)-t.Busy(now), 0)
}

// since returns a-b clamped at zero.
func since(a, b time.Time) time.Duration {
	if d := a.Sub(b); d > 0 {
		return d
	}
	return 0
}

func timeFromProto(ts *timestamppb.Timestamp) (time.Time, bool) {
	if ts == nil || ts.CheckValid() != nil {
		return time.Time{}, false
	}
	return ts.AsTime(), true
}

// optionalTime converts an optional wire timestamp; invalid values are
// treated as absent.
func optionalTime(ts *timestamppb.Timestamp) time.Time {
	t, _ := timeFromProto(ts)
	return t
}

func durationFromProto(d *durationpb.Duration) time.Duration {
	if d == nil || d.CheckValid() != nil {
		return 0
	}
	return max(d.AsDuration(), 0)
}

// pollStats is the decoded form of wire.PollStats.
type pollStats struct {
	polls           uint64
	firstPoll       time.Time
	busy            time.Duration
	lastPollStarted time.Time
	lastPollEnded   time.Time
}

// pollStatsFromProto decodes poll stats. A missing block decodes as an
// entity that has never been polled.
func pollStatsFromProto(pb *wire.PollStats) pollStats {
	if pb == nil {
		return pollStats{}
	}
	return pollStats{
		polls:           pb.Polls,
		firstPoll:       optionalTime(pb.FirstPoll),
		busy:            durationFromProto(pb.BusyTime),
		lastPollStarted: optionalTime(pb.LastPollStarted),
		lastPollEnded:   optionalTime(pb.LastPollEnded),
	}
}

func (ps pollStats) timings(createdAt, droppedAt time.Time) Timings {
	return NewTimings(createdAt, droppedAt, ps.busy, ps.lastPollStarted, ps.lastPollEnded)
}
