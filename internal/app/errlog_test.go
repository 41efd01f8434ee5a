package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLog_ReportAndResolve(t *testing.T) {
	a := New(testSymbols(), 30*time.Second)

	id1 := a.ReportError(ErrDatabase, SeverityWarning, "store prices failed: disk full")
	id2 := a.ReportError(ErrConfig, SeverityCritical, "refresh interval must be at least 1s")
	require.NotEqual(t, id1, id2)

	entries := a.Errors()
	require.Len(t, entries, 2)
	assert.Equal(t, ErrDatabase, entries[0].Kind)
	assert.False(t, entries[0].Resolved)

	assert.True(t, a.ResolveError(id1))
	assert.False(t, a.ResolveError(999))

	// Resolved entries stay in the log until explicitly cleared.
	entries = a.Errors()
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Resolved)

	a.ClearResolvedErrors()
	entries = a.Errors()
	require.Len(t, entries, 1)
	assert.Equal(t, id2, entries[0].ID)
}

func TestErrorSummary_BySeverity(t *testing.T) {
	a := New(testSymbols(), 30*time.Second)
	assert.Empty(t, a.ErrorSummary())

	a.ReportError(ErrNetwork, SeverityInfo, "retrying")
	assert.Equal(t, "🔵 1 notices", a.ErrorSummary())

	a.ReportError(ErrDatabase, SeverityWarning, "slow query")
	assert.Equal(t, "🟡 1 warnings", a.ErrorSummary())

	id := a.ReportError(ErrConfig, SeverityCritical, "bad config")
	assert.Equal(t, "🔴 1 critical", a.ErrorSummary())

	// Resolving the critical entry falls back to the warning badge.
	a.ResolveError(id)
	assert.Equal(t, "🟡 1 warnings", a.ErrorSummary())
}

func TestErrorKindAndSeverityStrings(t *testing.T) {
	assert.Equal(t, "network", ErrNetwork.String())
	assert.Equal(t, "api", ErrAPI.String())
	assert.Equal(t, "database", ErrDatabase.String())
	assert.Equal(t, "config", ErrConfig.String())
	assert.Equal(t, "validation", ErrValidation.String())
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "critical", SeverityCritical.String())
}
