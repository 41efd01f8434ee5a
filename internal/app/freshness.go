package app

import (
	"fmt"
	"time"
)

// Offline mode trips automatically after this many consecutive failures.
const offlineFailureThreshold = 3

// Data older than this counts as stale.
const staleAfter = 30 * time.Minute

// DataStatus tracks sync health. Zero time values mean "never".
type DataStatus struct {
	LastUpdate          time.Time `json:"last_update"`
	LastSuccess         time.Time `json:"last_success"`
	Offline             bool      `json:"offline"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// RecordSuccess marks a completed fetch. It resets the failure counter but
// deliberately leaves offline mode untouched: once tripped, offline mode
// persists until the user toggles it off.
func (a *App) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.status.LastUpdate = now
	a.status.LastSuccess = now
	a.status.ConsecutiveFailures = 0
}

// RecordFailure counts a failed fetch. The third consecutive failure trips
// offline mode; the trigger is one-way.
func (a *App) RecordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.status.LastUpdate = a.now()
	a.status.ConsecutiveFailures++
	if a.status.ConsecutiveFailures >= offlineFailureThreshold {
		a.status.Offline = true
	}
}

// ToggleOffline flips offline mode manually and resets the failure counter
// as a side effect, so a fresh streak is required to re-trip it.
func (a *App) ToggleOffline() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.status.Offline = !a.status.Offline
	a.status.ConsecutiveFailures = 0
}

// Offline reports whether offline mode is active.
func (a *App) Offline() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status.Offline
}

// Status returns a copy of the current sync-health state.
func (a *App) Status() DataStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// OfflineIndicator renders the sync-health badge shown in the header.
func (a *App) OfflineIndicator() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.status.Offline:
		return "🔴 OFFLINE"
	case a.status.ConsecutiveFailures > 0:
		return fmt.Sprintf("🟡 %d failures", a.status.ConsecutiveFailures)
	default:
		return "🟢 synced " + a.dataAgeLocked()
	}
}

// DataAgeString buckets the age of the last successful sync for display.
func (a *App) DataAgeString() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dataAgeLocked()
}

func (a *App) dataAgeLocked() string {
	if a.status.LastSuccess.IsZero() {
		return "never"
	}

	age := a.now().Sub(a.status.LastSuccess)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}

// IsStale reports whether the last successful sync is older than 30
// minutes. Never having synced counts as stale.
func (a *App) IsStale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.LastSuccess.IsZero() {
		return true
	}
	return a.now().Sub(a.status.LastSuccess) > staleAfter
}
