package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestOffline_AutoTriggerAfterThreeFailures(t *testing.T) {
	a := New(testSymbols(), 30*time.Second)

	a.RecordFailure()
	a.RecordFailure()
	assert.False(t, a.Offline())
	assert.Equal(t, 2, a.Status().ConsecutiveFailures)

	a.RecordFailure()
	assert.True(t, a.Offline())
	assert.Equal(t, 3, a.Status().ConsecutiveFailures)
}

func TestOffline_SuccessDoesNotClearOfflineMode(t *testing.T) {
	a := New(testSymbols(), 30*time.Second)

	a.RecordFailure()
	a.RecordFailure()
	a.RecordFailure()
	require.True(t, a.Offline())

	// A successful fetch resets the counter but offline mode is sticky:
	// only a manual toggle leaves it.
	a.RecordSuccess()
	assert.True(t, a.Offline())
	assert.Equal(t, 0, a.Status().ConsecutiveFailures)

	a.ToggleOffline()
	assert.False(t, a.Offline())
}

func TestToggleOffline_ResetsFailureCounter(t *testing.T) {
	a := New(testSymbols(), 30*time.Second)

	a.RecordFailure()
	a.RecordFailure()
	a.ToggleOffline()

	assert.True(t, a.Offline())
	assert.Equal(t, 0, a.Status().ConsecutiveFailures)
}

func TestRecordSuccess_UpdatesTimestamps(t *testing.T) {
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	_, clock := newTestClock(start)
	a := New(testSymbols(), 30*time.Second, WithClock(clock))

	require.True(t, a.Status().LastSuccess.IsZero())

	a.RecordSuccess()
	status := a.Status()
	assert.Equal(t, start, status.LastSuccess)
	assert.Equal(t, start, status.LastUpdate)
}

func TestOfflineIndicator(t *testing.T) {
	a := New(testSymbols(), 30*time.Second)

	assert.Equal(t, "🟢 synced never", a.OfflineIndicator())

	a.RecordSuccess()
	assert.Equal(t, "🟢 synced just now", a.OfflineIndicator())

	a.RecordFailure()
	assert.Equal(t, "🟡 1 failures", a.OfflineIndicator())

	a.RecordFailure()
	a.RecordFailure()
	assert.Equal(t, "🔴 OFFLINE", a.OfflineIndicator())
}

func TestDataAgeBuckets(t *testing.T) {
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now, clock := newTestClock(start)
	a := New(testSymbols(), 30*time.Second, WithClock(clock))

	assert.Equal(t, "never", a.DataAgeString())

	a.RecordSuccess()
	assert.Equal(t, "just now", a.DataAgeString())

	*now = start.Add(30 * time.Minute)
	assert.Equal(t, "30m ago", a.DataAgeString())

	*now = start.Add(2 * time.Hour)
	assert.Equal(t, "2h ago", a.DataAgeString())

	*now = start.Add(72 * time.Hour)
	assert.Equal(t, "3d ago", a.DataAgeString())
}

func TestIsStale(t *testing.T) {
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now, clock := newTestClock(start)
	a := New(testSymbols(), 30*time.Second, WithClock(clock))

	assert.True(t, a.IsStale(), "never synced counts as stale")

	a.RecordSuccess()
	assert.False(t, a.IsStale())

	*now = start.Add(29 * time.Minute)
	assert.False(t, a.IsStale())

	*now = start.Add(31 * time.Minute)
	assert.True(t, a.IsStale())
}
