package state

import (
	"runtime"
	"testing"
	"time"

	"github.com/fentz26/lookout/internal/warnings"
	"github.com/fentz26/lookout/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func ptr[T any](v T) *T { return &v }

func ts(ms int) *timestamppb.Timestamp { return timestamppb.New(at(ms)) }

func dur(d time.Duration) *durationpb.Duration { return durationpb.New(d) }

func newTestState(t *testing.T, opts warnings.TaskOptions) *State {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return New(logger, warnings.TaskLinters(opts, logger))
}

func linterNamed(t *testing.T, s *State, name string) *warnings.Linter[warnings.Task] {
	t.Helper()
	for _, l := range s.Tasks().Linters() {
		if l.Name() == name {
			return l
		}
	}
	t.Fatalf("no linter named %q", name)
	return nil
}

func metadataUpdate(id uint64, name string, fields ...string) wire.NewMetadata {
	return wire.NewMetadata{
		ID: &wire.MetaId{ID: id},
		Metadata: &wire.Metadata{
			Name:       name,
			Target:     "app::worker",
			Location:   &wire.Location{File: ptr("src/worker.rs"), Line: ptr(uint32(12)), Column: ptr(uint32(5))},
			FieldNames: fields,
		},
	}
}

func asyncOpUpdate(spanID, metaID, resourceID uint64, stats *wire.AsyncOpStats) *wire.Update {
	return &wire.Update{
		Now:         ts(0),
		NewMetadata: []wire.NewMetadata{metadataUpdate(metaID, "runtime.resource.async_op")},
		AsyncOpUpdate: &wire.AsyncOpUpdate{
			NewAsyncOps: []wire.AsyncOp{{
				ID:         &wire.Id{ID: spanID},
				Metadata:   &wire.MetaId{ID: metaID},
				Source:     "Sleep::new_timeout",
				ResourceID: &wire.Id{ID: resourceID},
			}},
			StatsUpdate: map[uint64]*wire.AsyncOpStats{spanID: stats},
		},
	}
}

func TestAsyncOpInsertAndDrain(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	s.Update(at(0), asyncOpUpdate(7, 3, 2, &wire.AsyncOpStats{CreatedAt: ts(0)}), Show)

	refs := s.AsyncOps().TakeNew()
	require.Len(t, refs, 1)
	assert.Equal(t, Id[AsyncOp](1), refs[0].Id())

	op, ok := refs[0].Get()
	require.True(t, ok)
	resID, ok := s.Resources().Ids().Lookup(2)
	require.True(t, ok)
	assert.Equal(t, resID, op.ResourceID())
	assert.Equal(t, "Sleep::new_timeout", op.Source())
	assert.Equal(t, notApplicable, op.ParentID())
	assert.Equal(t, notApplicable, op.TaskIDString())
	_, hasTask := op.TaskID()
	assert.False(t, hasTask)

	assert.Empty(t, s.AsyncOps().TakeNew())
}

func TestAsyncOpCompletedDurations(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	s.Update(at(0), asyncOpUpdate(7, 3, 2, &wire.AsyncOpStats{CreatedAt: ts(0)}), Show)

	s.Update(at(1000), &wire.Update{
		AsyncOpUpdate: &wire.AsyncOpUpdate{
			StatsUpdate: map[uint64]*wire.AsyncOpStats{7: {
				CreatedAt: ts(0),
				DroppedAt: ts(1000),
				TaskID:    &wire.Id{ID: 55},
				PollStats: &wire.PollStats{Polls: 3, BusyTime: dur(400 * time.Millisecond)},
			}},
		},
	}, Show)

	op, ok := s.AsyncOps().Get(1)
	require.True(t, ok)
	assert.True(t, op.Dropped())
	assert.Equal(t, uint64(3), op.TotalPolls())
	for _, ms := range []int{1000, 2000, 30000} {
		assert.Equal(t, time.Second, op.Total(at(ms)))
		assert.Equal(t, 600*time.Millisecond, op.Idle(at(ms)))
	}

	taskID, ok := op.TaskID()
	require.True(t, ok)
	assert.Equal(t, taskID.String(), op.TaskIDString())
}

func TestAsyncOpSkipsIncompleteRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*wire.Update)
	}{
		{name: "missing id", mutate: func(u *wire.Update) { u.AsyncOpUpdate.NewAsyncOps[0].ID = nil }},
		{name: "missing metadata id", mutate: func(u *wire.Update) { u.AsyncOpUpdate.NewAsyncOps[0].Metadata = nil }},
		{name: "unknown metadata", mutate: func(u *wire.Update) { u.NewMetadata = nil }},
		{name: "missing resource id", mutate: func(u *wire.Update) { u.AsyncOpUpdate.NewAsyncOps[0].ResourceID = nil }},
		{name: "missing stats", mutate: func(u *wire.Update) { u.AsyncOpUpdate.StatsUpdate = nil }},
		{name: "missing created at", mutate: func(u *wire.Update) { u.AsyncOpUpdate.StatsUpdate[7].CreatedAt = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState(t, warnings.DefaultTaskOptions())
			u := asyncOpUpdate(7, 3, 2, &wire.AsyncOpStats{CreatedAt: ts(0)})
			tt.mutate(u)
			s.Update(at(0), u, Show)
			assert.Zero(t, s.AsyncOps().Len())
			assert.Empty(t, s.AsyncOps().TakeNew())
		})
	}
}

func TestAsyncOpParentAndAttributes(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	u := asyncOpUpdate(7, 3, 2, &wire.AsyncOpStats{
		CreatedAt: ts(0),
		Attributes: []wire.Attribute{
			{Field: &wire.Field{Name: ptr("timeout"), U64Val: ptr(uint64(250))}, Unit: ptr("ms")},
			{Field: &wire.Field{Name: ptr("deadline"), StrVal: ptr("soon")}},
			{Field: &wire.Field{Name: ptr("broken")}},
		},
	})
	u.AsyncOpUpdate.NewAsyncOps[0].ParentAsyncOpID = &wire.Id{ID: 99}
	s.Update(at(0), u, Show)

	op, ok := s.AsyncOps().Get(1)
	require.True(t, ok)
	assert.Equal(t, "2", op.ParentID(), "parent id comes from the async op id space")
	assert.Equal(t, []string{"deadline=soon", "timeout=250ms"}, op.FormattedAttributes())
}

func TestAsyncOpRetainActive(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	s.Update(at(0), asyncOpUpdate(7, 3, 2, &wire.AsyncOpStats{CreatedAt: ts(0), DroppedAt: ts(100)}), Show)
	refs := s.AsyncOps().TakeNew()
	require.Len(t, refs, 1)

	s.RetainActive(at(1000), 5*time.Second)
	assert.Equal(t, 1, s.AsyncOps().Len())

	s.RetainActive(at(5100), 5*time.Second)
	assert.Zero(t, s.AsyncOps().Len())
	_, ok := refs[0].Get()
	assert.False(t, ok)

	// Late stats for an evicted op are ignored.
	s.Update(at(6000), &wire.Update{AsyncOpUpdate: &wire.AsyncOpUpdate{
		StatsUpdate: map[uint64]*wire.AsyncOpStats{7: {CreatedAt: ts(0)}},
	}}, Show)
	assert.Zero(t, s.AsyncOps().Len())
}

func taskUpdate(spanID, metaID uint64, fields []wire.Field, stats *wire.TaskStats) *wire.Update {
	return &wire.Update{
		NewMetadata: []wire.NewMetadata{metadataUpdate(metaID, "runtime.spawn", "task.name", "kind")},
		TaskUpdate: &wire.TaskUpdate{
			NewTasks: []wire.Task{{
				ID:       &wire.Id{ID: spanID},
				Metadata: &wire.MetaId{ID: metaID},
				Fields:   fields,
			}},
			StatsUpdate: map[uint64]*wire.TaskStats{spanID: stats},
		},
	}
}

func TestSelfWakeWarningLifecycle(t *testing.T) {
	opts := warnings.DefaultTaskOptions()
	opts.SelfWakePercent = 50
	s := newTestState(t, opts)
	selfWake := linterNamed(t, s, warnings.SelfWakePercentName)

	s.Update(at(0), taskUpdate(1, 1, nil, &wire.TaskStats{
		CreatedAt:   ts(0),
		Wakes:       100,
		SelfWakes:   86,
		WakerClones: 1,
	}), Show)

	task, ok := s.Tasks().Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(86), task.SelfWakePercent())
	assert.Equal(t, 1, selfWake.Count())
	assert.Contains(t, task.Warnings(), selfWake)
	assert.Contains(t, selfWake.Format(task, at(0)), "86%")

	// Complete the task and let it age out.
	s.Update(at(100), &wire.Update{TaskUpdate: &wire.TaskUpdate{
		StatsUpdate: map[uint64]*wire.TaskStats{1: {
			CreatedAt: ts(0),
			DroppedAt: ts(100),
			Wakes:     100,
			SelfWakes: 86,
		}},
	}}, Show)
	assert.Equal(t, 1, selfWake.Count(), "completed tasks keep their warnings until evicted")

	s.RetainActive(at(10000), time.Second)
	assert.Zero(t, s.Tasks().Len())
	assert.Zero(t, selfWake.Count())
}

func TestSelfWakeWarningClearsWhenRatioDrops(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	selfWake := linterNamed(t, s, warnings.SelfWakePercentName)

	s.Update(at(0), taskUpdate(1, 1, nil, &wire.TaskStats{CreatedAt: ts(0), Wakes: 10, SelfWakes: 9, WakerClones: 1}), Show)
	require.Equal(t, 1, selfWake.Count())

	s.Update(at(10), &wire.Update{TaskUpdate: &wire.TaskUpdate{
		StatsUpdate: map[uint64]*wire.TaskStats{1: {CreatedAt: ts(0), Wakes: 100, SelfWakes: 9, WakerClones: 1}},
	}}, Show)
	assert.Zero(t, selfWake.Count())
	task, _ := s.Tasks().Get(1)
	assert.NotContains(t, task.Warnings(), selfWake)
}

func TestNeverYieldedRechecksPendingTasks(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	neverYielded := linterNamed(t, s, warnings.NeverYieldedName)

	s.Update(at(0), taskUpdate(1, 1, nil, &wire.TaskStats{
		CreatedAt:   ts(0),
		WakerClones: 1,
		PollStats: &wire.PollStats{
			Polls:           1,
			FirstPoll:       ts(0),
			LastPollStarted: ts(0),
		},
	}), Show)
	update := func(ms int) {
		s.Update(at(ms), &wire.Update{Now: ts(ms)}, Show)
	}

	task, ok := s.Tasks().Get(1)
	require.True(t, ok)
	assert.Equal(t, TaskRunning, task.State())
	assert.Zero(t, neverYielded.Count())

	update(500)
	assert.Zero(t, neverYielded.Count())

	// No stats arrive for the task, but it is still rechecked.
	update(1500)
	assert.Equal(t, 1, neverYielded.Count())
	assert.Contains(t, task.Warnings(), neverYielded)
}

func TestTaskFieldsAndState(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	fields := []wire.Field{
		{NameIdx: ptr(uint64(0)), MetadataID: &wire.MetaId{ID: 1}, StrVal: ptr("worker-1")},
		{NameIdx: ptr(uint64(1)), MetadataID: &wire.MetaId{ID: 1}, StrVal: ptr("blocking")},
		{Name: ptr("task.id"), U64Val: ptr(uint64(77))},
		{Name: ptr("size.bytes"), U64Val: ptr(uint64(2048))},
		{Name: ptr("original_size.bytes"), U64Val: ptr(uint64(4096))},
		{Name: ptr("retries"), I64Val: ptr(int64(3))},
		{Name: ptr("cached"), BoolVal: ptr(true)},
		{NameIdx: ptr(uint64(9)), MetadataID: &wire.MetaId{ID: 1}, StrVal: ptr("dropped")},
	}
	s.Update(at(0), taskUpdate(40, 1, fields, &wire.TaskStats{
		CreatedAt: ts(0),
		Wakes:     2,
		LastWake:  ts(300),
		PollStats: &wire.PollStats{Polls: 1, LastPollStarted: ts(100), LastPollEnded: ts(200)},
	}), Show)

	task, ok := s.Tasks().Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(40), task.SpanID())
	assert.Equal(t, "worker-1", task.Name())
	assert.Equal(t, "blocking", task.Kind())
	assert.True(t, task.IsBlocking())
	taskID, ok := task.TaskID()
	require.True(t, ok)
	assert.Equal(t, uint64(77), taskID)
	size, _ := task.SizeBytes()
	assert.Equal(t, uint64(2048), size)
	assert.Equal(t, []string{"cached=true", "retries=3"}, task.FormattedFields())
	assert.Equal(t, "app::worker", task.Target())
	assert.Equal(t, "src/worker.rs:12:5", task.Location())

	assert.Equal(t, TaskScheduled, task.State())
	assert.Equal(t, 200*time.Millisecond, task.Scheduled(at(500)))
	assert.Zero(t, task.WakerCount())

	// Blocking tasks are exempt from most lints, but not from auto-boxing.
	assert.Equal(t, 1, linterNamed(t, s, warnings.AutoBoxedFutureName).Count())
	assert.Zero(t, linterNamed(t, s, warnings.LostWakerName).Count())
	assert.Zero(t, linterNamed(t, s, warnings.LargeFutureName).Count())
}

func TestLostWakerOnIdleTask(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	s.Update(at(0), taskUpdate(1, 1, nil, &wire.TaskStats{
		CreatedAt:   ts(0),
		WakerClones: 2,
		WakerDrops:  2,
		PollStats:   &wire.PollStats{Polls: 4, LastPollStarted: ts(10), LastPollEnded: ts(20)},
	}), Show)

	task, ok := s.Tasks().Get(1)
	require.True(t, ok)
	assert.Equal(t, TaskIdle, task.State())
	assert.Equal(t, 1, linterNamed(t, s, warnings.LostWakerName).Count())
}

func TestDisabledLintsAreNotRun(t *testing.T) {
	opts := warnings.DefaultTaskOptions()
	opts.Disabled = []string{warnings.LostWakerName}
	s := newTestState(t, opts)

	for _, l := range s.Tasks().Linters() {
		assert.NotEqual(t, warnings.LostWakerName, l.Name())
	}
	s.Update(at(0), taskUpdate(1, 1, nil, &wire.TaskStats{CreatedAt: ts(0)}), Show)
	task, _ := s.Tasks().Get(1)
	assert.Empty(t, task.Warnings())
}

func TestResourceUpdate(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	s.Update(at(0), &wire.Update{
		NewMetadata: []wire.NewMetadata{metadataUpdate(5, "runtime.resource")},
		ResourceUpdate: &wire.ResourceUpdate{
			NewResources: []wire.Resource{
				{
					ID:           &wire.Id{ID: 2},
					Metadata:     &wire.MetaId{ID: 5},
					Kind:         &wire.ResourceKind{Known: ptr(wire.ResourceKindTimer)},
					ConcreteType: "Sleep",
					IsInternal:   true,
				},
				{
					ID:               &wire.Id{ID: 3},
					Metadata:         &wire.MetaId{ID: 5},
					Kind:             &wire.ResourceKind{Other: ptr("Sync")},
					ConcreteType:     "Mutex",
					ParentResourceID: &wire.Id{ID: 2},
				},
				{ID: &wire.Id{ID: 4}, Metadata: &wire.MetaId{ID: 5}},
			},
			StatsUpdate: map[uint64]*wire.ResourceStats{
				2: {CreatedAt: ts(0)},
				3: {CreatedAt: ts(0)},
				4: {CreatedAt: ts(0)},
			},
			DroppedEvents: 3,
		},
	}, Show)

	refs := s.Resources().TakeNew()
	require.Len(t, refs, 2)
	timer, ok := refs[0].Get()
	require.True(t, ok)
	assert.Equal(t, "Timer", timer.Kind())
	assert.Equal(t, "internal", timer.Visibility())
	assert.Equal(t, notApplicable, timer.ParentID())
	assert.Equal(t, "src/worker.rs:12:5", timer.Location())

	mutex, ok := refs[1].Get()
	require.True(t, ok)
	assert.Equal(t, "Sync", mutex.Kind())
	assert.Equal(t, "Mutex", mutex.ConcreteType())
	assert.Equal(t, timer.ID().String(), mutex.ParentID())
	assert.Equal(t, "public", mutex.Visibility())

	assert.Equal(t, DroppedEvents{Resources: 3}, s.DroppedEvents())
}

func TestUpdateUsesBatchTimestamp(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())

	got := s.Update(at(0), &wire.Update{Now: ts(2500)}, Show)
	assert.Equal(t, at(2500), got)
	last, ok := s.LastUpdatedAt()
	require.True(t, ok)
	assert.Equal(t, at(2500), last)

	got = s.Update(at(4000), &wire.Update{}, Show)
	assert.Equal(t, at(4000), got)
}

func TestRetainActiveSweepsStrings(t *testing.T) {
	s := newTestState(t, warnings.DefaultTaskOptions())
	s.Update(at(0), taskUpdate(1, 1, []wire.Field{{Name: ptr("task.name"), StrVal: ptr("short-lived")}},
		&wire.TaskStats{CreatedAt: ts(0), DroppedAt: ts(10)}), Hide)

	before := s.Strings().Len()

	s.RetainActive(at(10000), time.Second)
	assert.Zero(t, s.Tasks().Len())

	runtime.GC()
	s.Strings().RetainReferenced()
	assert.Less(t, s.Strings().Len(), before)
}
