package loyalty

import "time"

// MonthsAsCustomer returns the number of whole months between since and now.
// Months are counted on the anniversary day-of-month; a customer who joined on
// Jan 31 completes a month on the last day of February.
func MonthsAsCustomer(since, now time.Time) int {
	if since.IsZero() {
		return 0
	}
	s := startOfDayUTC(since)
	n := now.UTC()
	if n.Before(s) {
		// Clock skew / future start: clamp.
		return 0
	}

	day := s.Day()
	// Jump close to the answer, then settle on the exact anniversary.
	months := (n.Year()-s.Year())*12 + int(n.Month()-s.Month()) - 1
	if months < 0 {
		months = 0
	}
	for !addMonthsSafeWithDay(s, months+1, day).After(n) {
		months++
	}
	return months
}

// addMonthsSafeWithDay adds months while preserving the target day-of-month when possible.
// If the target day doesn't exist in the result month (e.g., Feb 31), it uses the last day of that month.
func addMonthsSafeWithDay(base time.Time, months, targetDay int) time.Time {
	year, month, _ := base.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, base.Location())

	// day=0 of month+1 is the last day of month.
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, first.Location()).Day()
	if targetDay > lastDay {
		targetDay = lastDay
	}
	return time.Date(first.Year(), first.Month(), targetDay, 0, 0, 0, 0, base.Location())
}

// startOfDayUTC returns the start of day (00:00:00) in UTC for the given time.
func startOfDayUTC(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
}
