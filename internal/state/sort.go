package state

import (
	"cmp"
	"slices"
	"time"
)

// sortRefs stably orders refs by compare. Refs whose entity has been evicted
// always sort last, keeping their relative order. Each ref is resolved once.
func sortRefs[T any](refs []Ref[T], descending bool, compare func(a, b *T) int) {
	type entry struct {
		ref  Ref[T]
		item *T
	}
	entries := make([]entry, len(refs))
	for i, ref := range refs {
		item, _ := ref.Get()
		entries[i] = entry{ref: ref, item: item}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		switch {
		case a.item == nil && b.item == nil:
			return 0
		case a.item == nil:
			return 1
		case b.item == nil:
			return -1
		}
		if descending {
			return compare(b.item, a.item)
		}
		return compare(a.item, b.item)
	})
	for i, e := range entries {
		refs[i] = e.ref
	}
}

// AsyncOpSortBy selects the column async op lists are ordered by.
type AsyncOpSortBy int

const (
	AsyncOpByID AsyncOpSortBy = iota
	AsyncOpByTask
	AsyncOpBySource
	AsyncOpByTotal
	AsyncOpByBusy
	AsyncOpByIdle
	AsyncOpByPolls
)

// AsyncOpSortByColumn returns the sort key for a table column index.
func AsyncOpSortByColumn(idx int) (AsyncOpSortBy, bool) {
	if idx < int(AsyncOpByID) || idx > int(AsyncOpByPolls) {
		return 0, false
	}
	return AsyncOpSortBy(idx), true
}

// Column returns the table column index the key sorts by.
func (by AsyncOpSortBy) Column() int { return int(by) }

// Sort orders refs in place, computing every live duration against now.
func (by AsyncOpSortBy) Sort(now time.Time, refs []Ref[AsyncOp], descending bool) {
	sortRefs(refs, descending, func(a, b *AsyncOp) int {
		switch by {
		case AsyncOpByTask:
			// Ops with no task sort before ops awaited by a task.
			at, aok := a.TaskID()
			bt, bok := b.TaskID()
			if aok != bok {
				if aok {
					return 1
				}
				return -1
			}
			return cmp.Compare(at, bt)
		case AsyncOpBySource:
			return cmp.Compare(a.Source(), b.Source())
		case AsyncOpByTotal:
			return cmp.Compare(a.Total(now), b.Total(now))
		case AsyncOpByBusy:
			return cmp.Compare(a.Busy(now), b.Busy(now))
		case AsyncOpByIdle:
			return cmp.Compare(a.Idle(now), b.Idle(now))
		case AsyncOpByPolls:
			return cmp.Compare(a.TotalPolls(), b.TotalPolls())
		default:
			return cmp.Compare(a.ID(), b.ID())
		}
	})
}

// TaskSortBy selects the column task lists are ordered by.
type TaskSortBy int

const (
	TaskByID TaskSortBy = iota
	TaskByWarnings
	TaskByState
	TaskByName
	TaskByTotal
	TaskByBusy
	TaskBySched
	TaskByIdle
	TaskByPolls
	TaskByKind
	TaskByTarget
	TaskByLocation
)

// TaskSortByColumn returns the sort key for a table column index.
func TaskSortByColumn(idx int) (TaskSortBy, bool) {
	if idx < int(TaskByID) || idx > int(TaskByLocation) {
		return 0, false
	}
	return TaskSortBy(idx), true
}

// Column returns the table column index the key sorts by.
func (by TaskSortBy) Column() int { return int(by) }

// Sort orders refs in place, computing every live duration against now.
func (by TaskSortBy) Sort(now time.Time, refs []Ref[Task], descending bool) {
	sortRefs(refs, descending, func(a, b *Task) int {
		switch by {
		case TaskByWarnings:
			return cmp.Compare(len(a.Warnings()), len(b.Warnings()))
		case TaskByState:
			return cmp.Compare(a.State(), b.State())
		case TaskByName:
			return cmp.Compare(a.Name(), b.Name())
		case TaskByTotal:
			return cmp.Compare(a.Total(now), b.Total(now))
		case TaskByBusy:
			return cmp.Compare(a.Busy(now), b.Busy(now))
		case TaskBySched:
			return cmp.Compare(a.Scheduled(now), b.Scheduled(now))
		case TaskByIdle:
			return cmp.Compare(a.Idle(now), b.Idle(now))
		case TaskByPolls:
			return cmp.Compare(a.TotalPolls(), b.TotalPolls())
		case TaskByKind:
			return cmp.Compare(a.Kind(), b.Kind())
		case TaskByTarget:
			return cmp.Compare(a.Target(), b.Target())
		case TaskByLocation:
			return cmp.Compare(a.Location(), b.Location())
		default:
			return cmp.Compare(a.ID(), b.ID())
		}
	})
}
