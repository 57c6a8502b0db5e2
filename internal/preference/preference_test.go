package preference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/webitel/journal-sync/internal/domain/model"
)

func TestQuietHoursActiveDisabledAlwaysFalse(t *testing.T) {
	prefs := model.Preferences{QuietHoursEnabled: false, QuietHours: []model.QuietHoursWindow{
		{Weekday: time.Wednesday, Start: "00:00", End: "23:59"},
	}}
	assert.False(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)))
}

func TestQuietHoursActiveWithinSameDayWindow(t *testing.T) {
	prefs := model.Preferences{QuietHoursEnabled: true, QuietHours: []model.QuietHoursWindow{
		{Weekday: time.Wednesday, Start: "09:00", End: "17:00"},
	}}
	assert.True(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)))
	assert.False(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 8, 0, 0, 0, time.UTC)))
}

func TestQuietHoursActiveOvernightWindow(t *testing.T) {
	prefs := model.Preferences{QuietHoursEnabled: true, QuietHours: []model.QuietHoursWindow{
		{Weekday: time.Wednesday, Start: "22:00", End: "07:00"},
	}}
	assert.True(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)))
	assert.True(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 6, 0, 0, 0, time.UTC)))
	assert.False(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)))
}

func TestQuietHoursActiveWrongWeekdayDoesNotMatch(t *testing.T) {
	prefs := model.Preferences{QuietHoursEnabled: true, QuietHours: []model.QuietHoursWindow{
		{Weekday: time.Thursday, Start: "00:00", End: "23:59"},
	}}
	assert.False(t, QuietHoursActive(prefs, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)))
}
