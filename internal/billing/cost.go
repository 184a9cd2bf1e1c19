// Package billing holds the time-based pricing rules for table sessions.
//
// All amounts are whole currency units. Partial usage is always rounded up.
package billing

import (
	"time"

	"session-service/internal/model"
)

const (
	msPerHour   = int64(time.Hour / time.Millisecond)
	msPerMinute = int64(time.Minute / time.Millisecond)
)

// Cost returns ceil(elapsedHours * hourlyRate) for the given elapsed time.
// The product is split into whole hours and a sub-hour remainder so that
// long sessions at high rates do not overflow.
func Cost(elapsed time.Duration, hourlyRate int64) int64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 || hourlyRate <= 0 {
		return 0
	}
	hours, rem := ms/msPerHour, ms%msPerHour
	return hours*hourlyRate + ceilDiv(rem*hourlyRate, msPerHour)
}

// CostFromMinutes prices a duration already rounded to whole minutes:
// ceil(minutes / 60 * hourlyRate).
func CostFromMinutes(minutes, hourlyRate int64) int64 {
	if minutes <= 0 || hourlyRate <= 0 {
		return 0
	}
	hours, rem := minutes/60, minutes%60
	return hours*hourlyRate + ceilDiv(rem*hourlyRate, 60)
}

// DurationMinutes rounds elapsed up to whole minutes.
func DurationMinutes(elapsed time.Duration) int64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return ceilDiv(ms, msPerMinute)
}

// BillableElapsed is the time the billing clock has run for s as of now.
// Time spent paused is excluded, and a finished session uses its end time.
func BillableElapsed(s *model.Session, now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	elapsed := end.Sub(s.StartTime) - time.Duration(s.PausedMs)*time.Millisecond
	if s.Status == model.SessionPaused && s.PausedAt != nil {
		elapsed -= end.Sub(*s.PausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Quote returns the cost breakdown of s as of now. Completed sessions report
// their stored total, cancelled sessions are never billed.
func Quote(s *model.Session, now time.Time) model.SessionCost {
	elapsed := BillableElapsed(s, now)
	cost := model.SessionCost{
		SessionID:       s.ID,
		DurationMinutes: DurationMinutes(elapsed),
		HourlyRate:      s.HourlyRate,
	}
	switch s.Status {
	case model.SessionCompleted:
		if s.TotalCost != nil {
			cost.CurrentCost = *s.TotalCost
		}
	case model.SessionCancelled:
		cost.CurrentCost = 0
	default:
		cost.CurrentCost = Cost(elapsed, s.HourlyRate)
	}
	return cost
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
