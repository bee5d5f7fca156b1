package campaign

import (
	"log/slog"
	"time"
)

// Window evaluation is pure over (schedule, now). All comparisons happen in
// the schedule's timezone; an unknown timezone degrades to UTC with a
// warning rather than failing the campaign.
//
// DST note: bounds are built with wall-clock time.Date in the target zone,
// so behavior across a spring-forward/fall-back hour inside an active
// window is best-effort.

// startGrace lets a restarted process pick up windows it missed; windows
// opened more than this long ago are not retroactively dialed.
const startGrace = 30 * time.Minute

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown timezone, falling back to UTC", "timezone", name)
		return time.UTC
	}
	return loc
}

// bounds resolves the window start and end instants for the given calendar
// date in the schedule's zone. EndTime earlier than ScheduledTime rolls the
// end to the next day.
func (s *Schedule) bounds(year int, month time.Month, day int, loc *time.Location) (start, end time.Time, ok bool) {
	st, err := time.Parse(timeLayout, s.ScheduledTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(year, month, day, st.Hour(), st.Minute(), 0, 0, loc)

	if s.EndTime == "" {
		return start, time.Time{}, true
	}
	et, err := time.Parse(timeLayout, s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end = time.Date(year, month, day, et.Hour(), et.Minute(), 0, 0, loc)
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, true
}

// scheduledBounds builds the window from the schedule's own date.
func (s *Schedule) scheduledBounds(loc *time.Location) (start, end time.Time, ok bool) {
	d, err := time.ParseInLocation(dateLayout, s.ScheduledDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return s.bounds(d.Year(), d.Month(), d.Day(), loc)
}

// ShouldStart reports whether the scheduled window has opened within the
// grace period and has not already closed.
func ShouldStart(s *Schedule, now time.Time) bool {
	if s == nil || s.ScheduledDate == "" || s.ScheduledTime == "" {
		return false
	}
	loc := location(s.Timezone)
	now = now.In(loc)

	start, end, ok := s.scheduledBounds(loc)
	if !ok {
		return false
	}
	if now.Before(start) || !now.Before(start.Add(startGrace)) {
		return false
	}
	if !end.IsZero() && !now.Before(end) {
		return false
	}
	return true
}

// ShouldStop reports whether an active campaign is now outside its daily
// window. Only meaningful when EndTime is set; outbound campaigns always
// carry one. Evaluated against the daily window so that campaigns resumed
// on a later day stop at that day's end time, not the original date's.
func ShouldStop(s *Schedule, now time.Time) bool {
	if s == nil || s.EndTime == "" || s.ScheduledTime == "" {
		return false
	}
	loc := location(s.Timezone)
	now = now.In(loc)

	// Before the scheduled window has ever opened there is nothing to stop.
	if s.ScheduledDate != "" {
		if start, _, ok := s.scheduledBounds(loc); ok && now.Before(start) {
			return false
		}
	}
	return !insideDailyWindow(s, now, loc)
}

// CanResumeInWindow reports whether now falls inside today's daily window in
// the schedule's zone. Used to reopen paused-time-window campaigns on a
// subsequent day at the same daily hour.
func CanResumeInWindow(s *Schedule, now time.Time) bool {
	if s == nil || s.ScheduledTime == "" || s.EndTime == "" {
		return false
	}
	loc := location(s.Timezone)
	return insideDailyWindow(s, now.In(loc), loc)
}

// insideDailyWindow checks now against today's [start, end) in loc, also
// covering the tail of yesterday's window when it rolled past midnight.
func insideDailyWindow(s *Schedule, now time.Time, loc *time.Location) bool {
	start, end, ok := s.bounds(now.Year(), now.Month(), now.Day(), loc)
	if !ok || end.IsZero() {
		return false
	}
	if now.Before(start) {
		ystart, yend, yok := s.bounds(now.Year(), now.Month(), now.Day()-1, loc)
		return yok && !now.Before(ystart) && now.Before(yend)
	}
	return now.Before(end)
}
