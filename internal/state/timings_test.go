package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestTimingsActiveTotalIsMonotonic(t *testing.T) {
	tm := NewTimings(at(0), time.Time{}, 100*time.Millisecond, at(50), at(150))

	prev := time.Duration(0)
	for _, ms := range []int{0, 10, 200, 5000, 60000} {
		total := tm.Total(at(ms))
		assert.GreaterOrEqual(t, total, prev)
		prev = total
	}
	assert.Equal(t, 5*time.Second, tm.Total(at(5000)))
}

func TestTimingsCompletedIsConstant(t *testing.T) {
	tm := NewTimings(at(0), at(1000), 400*time.Millisecond, at(900), at(950))

	for _, ms := range []int{1000, 1500, 90000} {
		now := at(ms)
		assert.Equal(t, time.Second, tm.Total(now))
		assert.Equal(t, 400*time.Millisecond, tm.Busy(now))
		assert.Equal(t, 600*time.Millisecond, tm.Idle(now))
		assert.Equal(t, tm.Total(now), tm.Idle(now)+tm.Busy(now))
	}
	dropped, ok := tm.DroppedAt()
	assert.True(t, ok)
	assert.Equal(t, at(1000), dropped)
}

func TestTimingsInPoll(t *testing.T) {
	tests := []struct {
		name    string
		started time.Time
		ended   time.Time
		want    bool
	}{
		{name: "never polled", want: false},
		{name: "poll in progress", started: at(100), want: true},
		{name: "poll finished", started: at(100), ended: at(200), want: false},
		{name: "new poll after previous end", started: at(300), ended: at(200), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTimings(at(0), time.Time{}, 0, tt.started, tt.ended)
			assert.Equal(t, tt.want, tm.InPoll())
		})
	}
}

func TestTimingsBusyIncludesCurrentPoll(t *testing.T) {
	tm := NewTimings(at(0), time.Time{}, 200*time.Millisecond, at(1000), at(500))

	assert.Equal(t, 200*time.Millisecond, tm.Busy(at(1000)))
	assert.Equal(t, 700*time.Millisecond, tm.Busy(at(1500)))
	assert.Equal(t, 800*time.Millisecond, tm.Idle(at(1500)))

	for _, ms := range []int{1000, 1200, 4000} {
		now := at(ms)
		assert.Equal(t, tm.Total(now), tm.Idle(now)+tm.Busy(now))
	}
}

func TestTimingsCompletedIgnoresOpenPoll(t *testing.T) {
	tm := NewTimings(at(0), at(1000), 300*time.Millisecond, at(800), time.Time{})

	assert.Equal(t, 300*time.Millisecond, tm.Busy(at(5000)))
	assert.Equal(t, 700*time.Millisecond, tm.Idle(at(5000)))
}

func TestTimingsClampClockSkew(t *testing.T) {
	// Dropped before created.
	tm := NewTimings(at(1000), at(500), 0, time.Time{}, time.Time{})
	assert.Zero(t, tm.Total(at(2000)))
	assert.Zero(t, tm.Idle(at(2000)))

	// Query instant before creation.
	active := NewTimings(at(1000), time.Time{}, 0, time.Time{}, time.Time{})
	assert.Zero(t, active.Total(at(0)))
	assert.Zero(t, active.Idle(at(0)))

	// More busy time than lifetime.
	busy := NewTimings(at(0), at(100), time.Second, time.Time{}, time.Time{})
	assert.Zero(t, busy.Idle(at(200)))
}
