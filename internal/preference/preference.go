// Package preference implements the per-user notification preference
// store (spec component C3): channel toggles, per-channel type filters,
// quiet-hours schedule, and contact endpoints, with last-writer-wins
// semantics on the whole record.
package preference

import (
	"context"
	"time"

	"github.com/webitel/journal-sync/internal/domain/model"
)

// Store is the preference persistence contract.
type Store interface {
	// Get returns the stored preferences for userID, or
	// model.DefaultPreferences(userID) if none exist.
	Get(ctx context.Context, userID model.UserID) (model.Preferences, error)
	// Upsert replaces the whole record (last-writer-wins).
	Upsert(ctx context.Context, prefs model.Preferences) error
}

// QuietHoursActive reports whether now falls inside one of prefs' quiet
// hours windows. now is interpreted in the server's configured location,
// matching the schedule's weekday/HH:MM fields (spec §4.C1).
func QuietHoursActive(prefs model.Preferences, now time.Time) bool {
	if !prefs.QuietHoursEnabled {
		return false
	}
	for _, w := range prefs.QuietHours {
		if windowContains(w, now) {
			return true
		}
	}
	return false
}

func windowContains(w model.QuietHoursWindow, now time.Time) bool {
	if w.Weekday != now.Weekday() {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()
	startMin := parseHHMM(w.Start)
	endMin := parseHHMM(w.End)
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Overnight window (e.g. 22:00-07:00): active if after start OR before end.
	return nowMin >= startMin || nowMin < endMin
}

func parseHHMM(s string) int {
	if len(s) != 5 || s[2] != ':' {
		return 0
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h*60 + m
}
