package app

import (
	"fmt"
	"time"

	"github.com/coindeck/coindeck/internal/domain"
)

// A triggered alert will not fire again until the cooldown elapses.
const alertCooldown = time.Hour

// recentAlertCap bounds the recent-alert ring used for display.
const recentAlertCap = 10

// AlertConditionKind discriminates the threshold rule of an alert.
type AlertConditionKind int

const (
	CondPriceAbove AlertConditionKind = iota
	CondPriceBelow
	CondPercentChangeAbove
	CondPercentChangeBelow
	CondVolumeSpike
)

// AlertCondition is a threshold rule evaluated against a price record.
type AlertCondition struct {
	Kind  AlertConditionKind `json:"kind"`
	Value float64            `json:"value"`
}

// PriceAbove triggers when price exceeds v.
func PriceAbove(v float64) AlertCondition {
	return AlertCondition{Kind: CondPriceAbove, Value: v}
}

// PriceBelow triggers when price drops under v.
func PriceBelow(v float64) AlertCondition {
	return AlertCondition{Kind: CondPriceBelow, Value: v}
}

// PercentChangeAbove triggers when the 24h change exceeds v percent.
func PercentChangeAbove(v float64) AlertCondition {
	return AlertCondition{Kind: CondPercentChangeAbove, Value: v}
}

// PercentChangeBelow triggers when the 24h change drops under v percent.
func PercentChangeBelow(v float64) AlertCondition {
	return AlertCondition{Kind: CondPercentChangeBelow, Value: v}
}

// VolumeSpike triggers when the 24h volume exceeds v.
func VolumeSpike(v float64) AlertCondition {
	return AlertCondition{Kind: CondVolumeSpike, Value: v}
}

// Met reports whether the condition holds for rec.
func (c AlertCondition) Met(rec domain.PriceRecord) bool {
	switch c.Kind {
	case CondPriceAbove:
		return rec.Price > c.Value
	case CondPriceBelow:
		return rec.Price < c.Value
	case CondPercentChangeAbove:
		return rec.ChangePercent > c.Value
	case CondPercentChangeBelow:
		return rec.ChangePercent < c.Value
	case CondVolumeSpike:
		return rec.Volume > c.Value
	default:
		return false
	}
}

// Description renders the condition for the management view.
func (c AlertCondition) Description() string {
	switch c.Kind {
	case CondPriceAbove:
		return fmt.Sprintf("Price > $%.2f", c.Value)
	case CondPriceBelow:
		return fmt.Sprintf("Price < $%.2f", c.Value)
	case CondPercentChangeAbove:
		return fmt.Sprintf("Change > %.1f%%", c.Value)
	case CondPercentChangeBelow:
		return fmt.Sprintf("Change < %.1f%%", c.Value)
	case CondVolumeSpike:
		return fmt.Sprintf("Volume > %.0f", c.Value)
	default:
		return "Unknown"
	}
}

// message synthesizes the notification text for a trigger against rec.
func (c AlertCondition) message(symbol string, rec domain.PriceRecord) string {
	switch c.Kind {
	case CondPriceAbove:
		return fmt.Sprintf("%s price $%.2f above $%.2f", symbol, rec.Price, c.Value)
	case CondPriceBelow:
		return fmt.Sprintf("%s price $%.2f below $%.2f", symbol, rec.Price, c.Value)
	case CondPercentChangeAbove:
		return fmt.Sprintf("%s 24h change %.1f%% above %.1f%%", symbol, rec.ChangePercent, c.Value)
	case CondPercentChangeBelow:
		return fmt.Sprintf("%s 24h change %.1f%% below %.1f%%", symbol, rec.ChangePercent, c.Value)
	case CondVolumeSpike:
		return fmt.Sprintf("%s volume %.0f above %.0f", symbol, rec.Volume, c.Value)
	default:
		return symbol
	}
}

// Alert is a user-defined threshold rule on one symbol. IDs are assigned
// as current alert count + 1, so an ID can be reused after a non-tail
// deletion; Delete and Toggle act on the first match.
type Alert struct {
	ID            int            `json:"id"`
	Symbol        string         `json:"symbol"`
	Condition     AlertCondition `json:"condition"`
	Enabled       bool           `json:"enabled"`
	CreatedAt     time.Time      `json:"created_at"`
	LastTriggered time.Time      `json:"last_triggered,omitempty"`
	TriggerCount  int            `json:"trigger_count"`
	CustomMessage string         `json:"custom_message,omitempty"`
}

// RecentAlert is one entry of the bounded notification ring.
type RecentAlert struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives a side-effecting signal for each triggered alert,
// e.g. a terminal bell. Implementations must not call back into App.
type Notifier interface {
	Notify(message string)
}

// CreateAlert registers a new enabled alert and returns its ID.
func (a *App) CreateAlert(symbol string, cond AlertCondition, customMessage string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	alert := Alert{
		ID:            len(a.alerts) + 1,
		Symbol:        symbol,
		Condition:     cond,
		Enabled:       true,
		CreatedAt:     a.now(),
		CustomMessage: customMessage,
	}
	a.alerts = append(a.alerts, alert)
	return alert.ID
}

// DeleteAlert removes the first alert with the given ID. Returns false if
// no alert matches.
func (a *App) DeleteAlert(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.alerts {
		if a.alerts[i].ID == id {
			a.alerts = append(a.alerts[:i], a.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// ToggleAlert flips enabled on the first alert with the given ID. Returns
// false if no alert matches.
func (a *App) ToggleAlert(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.alerts {
		if a.alerts[i].ID == id {
			a.alerts[i].Enabled = !a.alerts[i].Enabled
			return true
		}
	}
	return false
}

// Alerts returns a copy of all configured alerts.
func (a *App) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Alert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

// EnabledAlertCount returns how many alerts are currently enabled.
func (a *App) EnabledAlertCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for i := range a.alerts {
		if a.alerts[i].Enabled {
			n++
		}
	}
	return n
}

// RecentAlerts returns a copy of the notification ring, oldest first.
func (a *App) RecentAlerts() []RecentAlert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]RecentAlert, len(a.recentAlerts))
	copy(out, a.recentAlerts)
	return out
}

// evaluateAlertsLocked scans the freshly replaced snapshot against every
// enabled alert. A symbol absent from the snapshot is silently skipped.
// Each alert tracks its own cooldown independently.
func (a *App) evaluateAlertsLocked(records []domain.PriceRecord) {
	now := a.now()

	for i := range a.alerts {
		alert := &a.alerts[i]
		if !alert.Enabled {
			continue
		}

		rec, ok := lookupSymbol(records, alert.Symbol)
		if !ok {
			continue
		}
		if !alert.Condition.Met(rec) {
			continue
		}
		if !alert.LastTriggered.IsZero() && now.Sub(alert.LastTriggered) < alertCooldown {
			continue
		}

		alert.LastTriggered = now
		alert.TriggerCount++

		msg := alert.CustomMessage
		if msg == "" {
			msg = alert.Condition.message(alert.Symbol, rec)
		}
		a.pushRecentAlertLocked(msg, now)

		if a.notifier != nil {
			a.notifier.Notify(msg)
		}
	}
}

func (a *App) pushRecentAlertLocked(msg string, at time.Time) {
	a.recentAlerts = append(a.recentAlerts, RecentAlert{Message: msg, At: at})
	if len(a.recentAlerts) > recentAlertCap {
		a.recentAlerts = a.recentAlerts[len(a.recentAlerts)-recentAlertCap:]
	}
}

// lookupSymbol returns the first record with the given symbol. Duplicate
// symbols are undefined upstream; first occurrence wins.
func lookupSymbol(records []domain.PriceRecord, symbol string) (domain.PriceRecord, bool) {
	for _, rec := range records {
		if rec.Symbol == symbol {
			return rec, true
		}
	}
	return domain.PriceRecord{}, false
}
