package state

import (
	"iter"
	"maps"
	"time"

	"github.com/fentz26/lookout/internal/intern"
	"github.com/fentz26/lookout/internal/wire"
	"go.uber.org/zap"
)

// Resource is a synchronization primitive or I/O object that async ops act on.
type Resource struct {
	id           Id[Resource]
	parentID     intern.Str
	metaID       uint64
	kind         intern.Str
	concreteType intern.Str
	target       intern.Str
	location     intern.Str
	internal     bool
	stats        resourceStats
}

type resourceStats struct {
	timings             Timings
	formattedAttributes []string
}

func resourceStatsFromProto(pb *wire.ResourceStats, meta *Metadata, strs *intern.Strings, logger *zap.Logger) (resourceStats, bool) {
	if pb == nil {
		return resourceStats{}, false
	}
	createdAt, ok := timeFromProto(pb.CreatedAt)
	if !ok {
		return resourceStats{}, false
	}
	return resourceStats{
		timings:             NewTimings(createdAt, optionalTime(pb.DroppedAt), 0, time.Time{}, time.Time{}),
		formattedAttributes: formatAttributes(attributesFromProto(pb.Attributes, meta, strs, logger)),
	}, true
}

func resourceKindText(kind *wire.ResourceKind) (string, bool) {
	switch {
	case kind == nil:
		return "", false
	case kind.Known != nil:
		if *kind.Known == wire.ResourceKindTimer {
			return "Timer", true
		}
		return "", false
	case kind.Other != nil:
		return *kind.Other, true
	default:
		return "", false
	}
}

// Resources holds every monitored resource.
type Resources struct {
	resources     *Store[Resource]
	droppedEvents uint64
	logger        *zap.Logger
}

func newResources(logger *zap.Logger) *Resources {
	return &Resources{resources: NewStore[Resource](), logger: logger}
}

// Update applies one resource update batch.
func (rs *Resources) Update(strs *intern.Strings, metas map[uint64]*Metadata, update *wire.ResourceUpdate, visibility Visibility) {
	if update == nil {
		return
	}
	stats := maps.Clone(update.StatsUpdate)

	InsertWith(rs.resources, visibility, update.NewResources, func(ids *Ids[Resource], pb wire.Resource) (Id[Resource], *Resource, bool) {
		if pb.ID == nil {
			rs.logger.Warn("skipping resource with no id")
			return 0, nil, false
		}
		spanID := pb.ID.ID
		if pb.Metadata == nil {
			rs.logger.Warn("resource has no metadata id, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		meta, ok := metas[pb.Metadata.ID]
		if !ok {
			rs.logger.Warn("no metadata for resource, skipping",
				zap.Uint64("span_id", spanID), zap.Uint64("meta_id", pb.Metadata.ID))
			return 0, nil, false
		}
		kind, ok := resourceKindText(pb.Kind)
		if !ok {
			rs.logger.Warn("resource kind unknown, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		resStats, ok := resourceStatsFromProto(stats[spanID], meta, strs, rs.logger)
		if !ok {
			rs.logger.Warn("no valid stats for new resource, skipping", zap.Uint64("span_id", spanID))
			return 0, nil, false
		}
		delete(stats, spanID)

		id := ids.IdFor(spanID)
		parentID := strs.Intern(notApplicable)
		if pb.ParentResourceID != nil {
			parentID = strs.Intern(ids.IdFor(pb.ParentResourceID.ID).String())
		}
		location := meta.location
		if pb.Location != nil {
			location = strs.Intern(formatLocation(pb.Location))
		}
		return id, &Resource{
			id:           id,
			parentID:     parentID,
			metaID:       meta.id,
			kind:         strs.Intern(kind),
			concreteType: strs.Intern(pb.ConcreteType),
			target:       meta.target,
			location:     location,
			internal:     pb.IsInternal,
			stats:        resStats,
		}, true
	})

	for pb, res := range Updated(rs.resources, stats) {
		meta, ok := metas[res.metaID]
		if !ok {
			continue
		}
		resStats, ok := resourceStatsFromProto(pb, meta, strs, rs.logger)
		if !ok {
			rs.logger.Warn("skipping malformed resource stats", zap.Stringer("id", res.id))
			continue
		}
		res.stats = resStats
	}

	rs.droppedEvents += update.DroppedEvents
}

// RetainActive evicts resources that were dropped more than retainFor ago.
func (rs *Resources) RetainActive(now time.Time, retainFor time.Duration) {
	rs.resources.Retain(func(_ Id[Resource], res *Resource) bool {
		droppedAt, dropped := res.stats.timings.DroppedAt()
		return !dropped || since(now, droppedAt) < retainFor
	})
}

// TakeNew drains resources inserted since the previous call.
func (rs *Resources) TakeNew() []Ref[Resource] { return rs.resources.TakeNewItems() }

// Refs yields a weak reference to every resource.
func (rs *Resources) Refs() iter.Seq[Ref[Resource]] { return rs.resources.Refs() }

// Get returns the resource with the given id.
func (rs *Resources) Get(id Id[Resource]) (*Resource, bool) { return rs.resources.Get(id) }

// Len returns the number of resources.
func (rs *Resources) Len() int { return rs.resources.Len() }

// Ids returns the resource id mapping.
func (rs *Resources) Ids() *Ids[Resource] { return rs.resources.Ids() }

// DroppedEvents returns the number of resource events the feed reported
// dropping.
func (rs *Resources) DroppedEvents() uint64 { return rs.droppedEvents }

func (r *Resource) ID() Id[Resource] { return r.id }

// ParentID returns the parent resource's id as text, or "n/a".
func (r *Resource) ParentID() string { return r.parentID.String() }

// Kind returns the resource kind, such as "Timer" or "Sync".
func (r *Resource) Kind() string { return r.kind.String() }

func (r *Resource) ConcreteType() string { return r.concreteType.String() }

func (r *Resource) Target() string { return r.target.String() }

func (r *Resource) Location() string { return r.location.String() }

// Visibility returns "internal" for runtime-internal resources and "public"
// otherwise.
func (r *Resource) Visibility() string {
	if r.internal {
		return "internal"
	}
	return "public"
}

func (r *Resource) IsInternal() bool { return r.internal }

func (r *Resource) Total(now time.Time) time.Duration { return r.stats.timings.Total(now) }

func (r *Resource) Dropped() bool { return r.stats.timings.Dropped() }

// FormattedAttributes returns the resource's attributes as
// "name=value<unit>", ordered by name.
func (r *Resource) FormattedAttributes() []string { return r.stats.formattedAttributes }
