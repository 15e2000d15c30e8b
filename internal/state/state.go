// Package state mirrors the task, resource and async op activity reported by
// an instrumented program.
//
// Updates arrive as batches of new entities and stats deltas keyed by remote
// span ids. State translates those ids into small local ids, interns every
// string, derives timings and re-runs the task lints. All methods must be
// called from a single goroutine.
package state

import (
	"time"

	"github.com/fentz26/lookout/internal/intern"
	"github.com/fentz26/lookout/internal/warnings"
	"github.com/fentz26/lookout/internal/wire"
	"go.uber.org/zap"
)

// State is the local mirror of one monitored program.
type State struct {
	strings       *intern.Strings
	metas         map[uint64]*Metadata
	tasks         *Tasks
	resources     *Resources
	asyncOps      *AsyncOps
	lastUpdatedAt time.Time
	logger        *zap.Logger

	// Details are only kept for the watched task.
	watched  Id[Task]
	watching bool
	details  *Details
}

// DroppedEvents counts events the instrumented program reported losing,
// per entity kind.
type DroppedEvents struct {
	Tasks     uint64
	Resources uint64
	AsyncOps  uint64
}

// New creates an empty state that lints tasks with the given linters.
func New(logger *zap.Logger, linters []*warnings.Linter[warnings.Task]) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		strings:   intern.New(logger.Named("intern")),
		metas:     make(map[uint64]*Metadata),
		tasks:     newTasks(linters, logger),
		resources: newResources(logger),
		asyncOps:  newAsyncOps(logger),
		logger:    logger,
	}
}

// Update applies one batch. The batch's own timestamp is used as the current
// instant when present, otherwise now. It returns the instant used.
//
// Metadata is applied first, then tasks and resources, then async ops, so
// that references between kinds resolve within a single batch.
func (s *State) Update(now time.Time, update *wire.Update, visibility Visibility) time.Time {
	if update == nil {
		return now
	}
	if ts, ok := timeFromProto(update.Now); ok {
		now = ts
	}
	s.lastUpdatedAt = now

	for _, nm := range update.NewMetadata {
		if nm.ID == nil || nm.Metadata == nil {
			s.logger.Warn("skipping metadata with no id or body")
			continue
		}
		s.metas[nm.ID.ID] = metadataFromProto(nm.ID.ID, nm.Metadata, s.strings)
	}

	s.tasks.Update(now, s.strings, s.metas, update.TaskUpdate, visibility)
	s.resources.Update(s.strings, s.metas, update.ResourceUpdate, visibility)
	s.asyncOps.Update(s.strings, s.metas, update.AsyncOpUpdate, s.resources.Ids(), s.tasks.Ids(), visibility)
	s.updateDetails(now, update.TaskDetails)
	return now
}

func (s *State) updateDetails(now time.Time, records []wire.TaskDetails) {
	for _, rec := range records {
		if rec.TaskID == nil {
			s.logger.Warn("skipping task details with no task id")
			continue
		}
		if !s.watching {
			continue
		}
		id, ok := s.tasks.Ids().Lookup(rec.TaskID.ID)
		if !ok || id != s.watched {
			continue
		}
		d, err := detailsFromProto(id, now, rec)
		if err != nil {
			s.logger.Warn("skipping malformed task details",
				zap.Uint64("span_id", rec.TaskID.ID),
				zap.Error(err),
			)
			continue
		}
		s.details = d
	}
}

// WatchDetails starts keeping the details reported for id. Details of any
// other task are dropped.
func (s *State) WatchDetails(id Id[Task]) {
	if !s.watching || s.watched != id {
		s.details = nil
	}
	s.watched = id
	s.watching = true
}

// UnwatchDetails stops keeping task details.
func (s *State) UnwatchDetails() {
	s.watching = false
	s.details = nil
}

// Details returns the latest details of the watched task.
func (s *State) Details() (*Details, bool) {
	if !s.watching || s.details == nil {
		return nil, false
	}
	return s.details, true
}

// RetainActive evicts every entity that completed more than retainFor before
// now, then drops strings nothing refers to any more.
func (s *State) RetainActive(now time.Time, retainFor time.Duration) {
	s.tasks.RetainActive(now, retainFor)
	s.resources.RetainActive(now, retainFor)
	s.asyncOps.RetainActive(now, retainFor)
	if s.details != nil {
		if _, ok := s.tasks.Get(s.details.taskID); !ok {
			s.details = nil
		}
	}
	s.strings.RetainReferenced()
}

// LastUpdatedAt returns the instant of the most recent batch.
func (s *State) LastUpdatedAt() (time.Time, bool) {
	return s.lastUpdatedAt, !s.lastUpdatedAt.IsZero()
}

// Metadata returns the registered metadata with the given id.
func (s *State) Metadata(id uint64) (*Metadata, bool) {
	m, ok := s.metas[id]
	return m, ok
}

func (s *State) Tasks() *Tasks { return s.tasks }

func (s *State) Resources() *Resources { return s.resources }

func (s *State) AsyncOps() *AsyncOps { return s.asyncOps }

// Strings returns the interner shared by every entity.
func (s *State) Strings() *intern.Strings { return s.strings }

func (s *State) DroppedEvents() DroppedEvents {
	return DroppedEvents{
		Tasks:     s.tasks.DroppedEvents(),
		Resources: s.resources.DroppedEvents(),
		AsyncOps:  s.asyncOps.DroppedEvents(),
	}
}
