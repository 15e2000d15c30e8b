package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/fentz26/lookout/internal/wire"
)

var errBadHistogram = errors.New("invalid histogram")

// Details holds the latest time distributions reported for one task.
type Details struct {
	taskID         Id[Task]
	updatedAt      time.Time
	pollTimes      *Histogram
	scheduledTimes *Histogram
}

func (d *Details) TaskID() Id[Task] { return d.taskID }

// UpdatedAt returns when the program reported these details.
func (d *Details) UpdatedAt() time.Time { return d.updatedAt }

// PollTimes returns the distribution of the task's poll durations.
func (d *Details) PollTimes() (*Histogram, bool) {
	return d.pollTimes, d.pollTimes != nil
}

// ScheduledTimes returns the distribution of the delays between the task
// being woken and being polled.
func (d *Details) ScheduledTimes() (*Histogram, bool) {
	return d.scheduledTimes, d.scheduledTimes != nil
}

// Histogram is a decoded duration histogram.
type Histogram struct {
	hist           *hdrhistogram.Histogram
	maxValue       time.Duration
	highOutliers   uint64
	highestOutlier time.Duration
}

// Count returns the number of samples within the histogram's range.
func (h *Histogram) Count() int64 { return h.hist.TotalCount() }

// Percentile returns the duration at quantile q, in [0, 100].
func (h *Histogram) Percentile(q float64) time.Duration {
	return time.Duration(h.hist.ValueAtQuantile(q))
}

// Max returns the largest recorded duration.
func (h *Histogram) Max() time.Duration {
	return max(h.maxValue, time.Duration(h.hist.Max()))
}

// HighOutliers returns how many samples exceeded the histogram's range and
// the largest of them.
func (h *Histogram) HighOutliers() (uint64, time.Duration) {
	return h.highOutliers, h.highestOutlier
}

// Bins folds the samples into n equal-width bins between the smallest and
// largest recorded value.
func (h *Histogram) Bins(n int) []int64 {
	if n <= 0 || h.Count() == 0 {
		return nil
	}
	lo, hi := h.hist.Min(), h.hist.Max()
	span := hi - lo + 1
	bins := make([]int64, n)
	for _, bar := range h.hist.Distribution() {
		if bar.Count == 0 {
			continue
		}
		i := int((bar.From - lo) * int64(n) / span)
		bins[min(max(i, 0), n-1)] += bar.Count
	}
	return bins
}

func histogramFromProto(pb *wire.DurationHistogram) (*Histogram, error) {
	lo, hi, sig := pb.LowestTrackableValue, pb.HighestTrackableValue, pb.SignificantFigures
	switch {
	case lo < 1:
		return nil, fmt.Errorf("%w: lowest trackable value %d", errBadHistogram, lo)
	case hi < 2*lo:
		return nil, fmt.Errorf("%w: highest trackable value %d", errBadHistogram, hi)
	case sig < 1 || sig > 5:
		return nil, fmt.Errorf("%w: %d significant figures", errBadHistogram, sig)
	}
	if want := len(hdrhistogram.New(lo, hi, int(sig)).Export().Counts); len(pb.Counts) > want {
		return nil, fmt.Errorf("%w: %d buckets, want at most %d", errBadHistogram, len(pb.Counts), want)
	}
	for _, c := range pb.Counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative count", errBadHistogram)
		}
	}

	h := &Histogram{
		hist: hdrhistogram.Import(&hdrhistogram.Snapshot{
			LowestTrackableValue:  lo,
			HighestTrackableValue: hi,
			SignificantFigures:    sig,
			Counts:                pb.Counts,
		}),
		maxValue:     nanos(pb.MaxValue),
		highOutliers: pb.HighOutliers,
	}
	if pb.HighestOutlier != nil {
		h.highestOutlier = nanos(*pb.HighestOutlier)
	}
	return h, nil
}

func nanos(v uint64) time.Duration {
	return time.Duration(min(v, uint64(1<<63-1)))
}

func detailsFromProto(id Id[Task], now time.Time, pb wire.TaskDetails) (*Details, error) {
	d := &Details{taskID: id, updatedAt: now}
	if ts, ok := timeFromProto(pb.Now); ok {
		d.updatedAt = ts
	}
	var err error
	if pb.PollTimesHistogram != nil {
		if d.pollTimes, err = histogramFromProto(pb.PollTimesHistogram); err != nil {
			return nil, fmt.Errorf("poll times: %w", err)
		}
	}
	if pb.ScheduledTimesHistogram != nil {
		if d.scheduledTimes, err = histogramFromProto(pb.ScheduledTimesHistogram); err != nil {
			return nil, fmt.Errorf("scheduled times: %w", err)
		}
	}
	return d, nil
}
