package app

import (
	"fmt"
	"time"
)

// ErrorKind classifies where a reported failure originated.
type ErrorKind int

const (
	ErrNetwork ErrorKind = iota
	ErrAPI
	ErrDatabase
	ErrConfig
	ErrValidation
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNetwork:
		return "network"
	case ErrAPI:
		return "api"
	case ErrDatabase:
		return "database"
	case ErrConfig:
		return "config"
	case ErrValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Severity tags a logged error for display.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrorEntry is one user-visible item of the error log. Entries leave the
// log only through explicit resolution, never silently.
type ErrorEntry struct {
	ID       int       `json:"id"`
	Kind     ErrorKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
	Resolved bool      `json:"resolved"`
}

// ReportError appends a new entry to the error log and returns its ID.
func (a *App) ReportError(kind ErrorKind, sev Severity, message string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextErrorID++
	a.errorLog = append(a.errorLog, ErrorEntry{
		ID:       a.nextErrorID,
		Kind:     kind,
		Severity: sev,
		Message:  message,
		At:       a.now(),
	})
	return a.nextErrorID
}

// ResolveError marks the entry with the given ID resolved. Returns false
// if no entry matches.
func (a *App) ResolveError(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.errorLog {
		if a.errorLog[i].ID == id {
			a.errorLog[i].Resolved = true
			return true
		}
	}
	return false
}

// ClearResolvedErrors drops all resolved entries from the log.
func (a *App) ClearResolvedErrors() {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.errorLog[:0]
	for _, e := range a.errorLog {
		if !e.Resolved {
			kept = append(kept, e)
		}
	}
	a.errorLog = kept
}

// Errors returns a copy of the error log, unresolved and resolved alike.
func (a *App) Errors() []ErrorEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ErrorEntry, len(a.errorLog))
	copy(out, a.errorLog)
	return out
}

// ErrorSummary renders a badge for the title bar, or "" when nothing is
// unresolved.
func (a *App) ErrorSummary() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var critical, warning, info int
	for i := range a.errorLog {
		if a.errorLog[i].Resolved {
			continue
		}
		switch a.errorLog[i].Severity {
		case SeverityCritical:
			critical++
		case SeverityWarning:
			warning++
		default:
			info++
		}
	}

	switch {
	case critical > 0:
		return fmt.Sprintf("🔴 %d critical", critical)
	case warning > 0:
		return fmt.Sprintf("🟡 %d warnings", warning)
	case info > 0:
		return fmt.Sprintf("🔵 %d notices", info)
	default:
		return ""
	}
}
