// Package availability converts raw busy intervals into a normalized,
// gap-free grid of fixed-width slots across a multi-day horizon.
package availability

import (
	"sort"
	"time"

	"github.com/ora-app/orasync/internal/model"
)

// DayKeyFormat is the store key layout for one calendar day.
const DayKeyFormat = "2006-01-02"

// DayKey returns the day key for t in t's location.
func DayKey(t time.Time) string { return t.Format(DayKeyFormat) }

// DayStart truncates t to local midnight.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Overlaps is the half-open interval intersection test.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// BuildGrid partitions each of days consecutive calendar days starting at
// start (truncated to local midnight) into fixed slots of slotMinutes and
// marks each slot busy iff it overlaps any input interval.
//
// Pure: same inputs always produce the same grid. All-day intervals are
// normalized to [00:00, next 00:00) first. When slotMinutes does not divide
// 1440 the last slot of a day is truncated at midnight. Transparency is
// deliberately ignored here: a transparent event still occupies the owner's
// personal grid (the presence check below is where transparency matters).
func BuildGrid(intervals []model.BusyInterval, start time.Time, days, slotMinutes int) map[string][]model.Slot {
	if days < 1 {
		return map[string][]model.Slot{}
	}
	if slotMinutes <= 0 {
		slotMinutes = 30
	}

	norm := make([]model.BusyInterval, 0, len(intervals))
	for _, iv := range intervals {
		norm = append(norm, normalize(iv))
	}

	grid := make(map[string][]model.Slot, days)
	dayStart := DayStart(start)
	for d := 0; d < days; d++ {
		dayEnd := dayStart.AddDate(0, 0, 1)
		slots := make([]model.Slot, 0, (1440+slotMinutes-1)/slotMinutes)
		for m := 0; m < 1440; m += slotMinutes {
			slotStart := dayStart.Add(time.Duration(m) * time.Minute)
			slotEnd := slotStart.Add(time.Duration(slotMinutes) * time.Minute)
			if slotEnd.After(dayEnd) {
				slotEnd = dayEnd
			}
			state := model.SlotFree
			for _, iv := range norm {
				if Overlaps(slotStart, slotEnd, iv.Start, iv.End) {
					state = model.SlotBusy
					break
				}
			}
			slots = append(slots, model.Slot{
				Start:      slotStart,
				End:        slotEnd,
				State:      state,
				Confidence: model.ConfidenceMedium,
			})
		}
		grid[DayKey(dayStart)] = slots
		dayStart = dayEnd
	}
	return grid
}

// DayKeys returns the grid's day keys in chronological order.
func DayKeys(grid map[string][]model.Slot) []string {
	keys := make([]string, 0, len(grid))
	for k := range grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalize guarantees End > Start and expands all-day intervals to the full
// [00:00, next 00:00) span of their date.
func normalize(iv model.BusyInterval) model.BusyInterval {
	if iv.AllDay {
		start := DayStart(iv.Start)
		end := DayStart(iv.End)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		return model.BusyInterval{Start: start, End: end, AllDay: true, Transparent: iv.Transparent}
	}
	if !iv.End.After(iv.Start) {
		iv.End = iv.Start.Add(15 * time.Minute)
	}
	return iv
}

// PresentBusy reports whether any of events blocks the owner at instant at.
// Unlike the personal grid, transparent ("free") events do not count here.
func PresentBusy(events []model.Event, at time.Time) bool {
	for _, ev := range events {
		if ev.Transparent() {
			continue
		}
		start, end := ev.Start, ev.End
		if ev.AllDay {
			start = DayStart(start)
			end = DayStart(ev.End)
			if !end.After(start) {
				end = start.AddDate(0, 0, 1)
			}
		}
		if !at.Before(start) && at.Before(end) {
			return true
		}
	}
	return false
}
