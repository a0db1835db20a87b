// Package analytics implements the analytics engine (C7): summary and
// daily_history rollups over a tenant's viewing sessions and visit
// counters. Formulas are grounded directly on
// _examples/original_source/server/backend/src/service/advertise_service.py's
// get_analytics, including its percent-change edge cases and the
// customers-per-day inner-join semantics.
package analytics

import (
	"context"
	"math"
	"time"
)

// Session is one viewing session row within the queried period.
type Session struct {
	UserID          string
	StartTS         time.Time
	DurationSeconds int
}

// DataSource is the read-only query surface analytics needs from the
// store. Implementations must be consistent for a single Summary/
// DailyHistory call (spec's "insert_viewing_session and
// upsert_visit_counter atomic together" guarantee is what keeps these
// queries coherent).
type DataSource interface {
	// AllTimeDistinctUsers counts every user ever associated with tenant,
	// regardless of period.
	AllTimeDistinctUsers(ctx context.Context, tenantID string) (int, error)
	// FirstSessionTime returns, per user, the timestamp of that user's
	// earliest session ever (min(start_ts) across all time, not just the
	// queried period).
	FirstSessionTime(ctx context.Context, tenantID string) (map[string]time.Time, error)
	// SessionsInRange returns every session with start_ts in [start, end].
	SessionsInRange(ctx context.Context, tenantID string, start, end time.Time) ([]Session, error)
	// VisitCounts returns each user's all-time visit_count for tenant.
	VisitCounts(ctx context.Context, tenantID string) (map[string]int, error)
}

// Period is a half-open-lower, inclusive-upper-of-day window.
type Period struct {
	Start time.Time
	End   time.Time
}

// DefaultPeriod returns the spec's default 7-day window ending at now, day-
// boundary normalized in loc.
func DefaultPeriod(now time.Time, loc *time.Location) Period {
	now = now.In(loc)
	end := endOfDay(now, loc)
	start := startOfDay(now.AddDate(0, 0, -7), loc)
	return Period{Start: start, End: end}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, loc)
}

// previousPeriod returns the immediately preceding window of equal
// length [start-len, start).
func previousPeriod(p Period) Period {
	length := p.End.Sub(p.Start)
	return Period{Start: p.Start.Add(-length), End: p.Start}
}

// Summary is the control-plane-facing analytics summary.
type Summary struct {
	TotalViewers                  int
	TotalNewViewers               int
	TotalCustomers                int
	AverageViewTimeMinutes        int
	DiffViewersPercentage         int
	DiffNewViewersPercentage      int
	DiffCustomersPercentage       int
	DiffAverageViewTimePercentage int
}

// DailyEntry is one row of the daily_history output.
type DailyEntry struct {
	Date               time.Time
	DayOfWeek          string
	Viewers            int
	Customers          int
	AverageViewTimeMin int
}

var dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Summarize computes the summary block for tenantID over period, per
// §4.7.
func Summarize(ctx context.Context, ds DataSource, tenantID string, period Period) (Summary, error) {
	totalViewers, err := ds.AllTimeDistinctUsers(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}

	firstSession, err := ds.FirstSessionTime(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}
	newViewers := countNewViewers(firstSession, period)

	visitCounts, err := ds.VisitCounts(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}
	customers := countCustomers(visitCounts)

	curSessions, err := ds.SessionsInRange(ctx, tenantID, period.Start, period.End)
	if err != nil {
		return Summary{}, err
	}
	avgViewTime := averageViewTimeMinutes(curSessions)

	prev := previousPeriod(period)
	prevSessions, err := ds.SessionsInRange(ctx, tenantID, prev.Start, prev.End)
	if err != nil {
		return Summary{}, err
	}
	prevViewers := countDistinctUsers(prevSessions)
	curViewers := countDistinctUsers(curSessions)

	prevNewViewers := countNewViewers(firstSession, prev)
	prevAvgViewTime := averageViewTimeMinutes(prevSessions)
	// total_customers has no natural "previous window" concept in the
	// source (visit_count is all-time), so its diff is computed against
	// itself across periods using the same prev/cur session-derived
	// customer counts for symmetry with the other metrics.
	prevCustomers := countCustomersInSessions(prevSessions, visitCounts)
	curCustomers := countCustomersInSessions(curSessions, visitCounts)

	return Summary{
		TotalViewers:                  totalViewers,
		TotalNewViewers:               newViewers,
		TotalCustomers:                customers,
		AverageViewTimeMinutes:        avgViewTime,
		DiffViewersPercentage:         percentChange(curViewers, prevViewers),
		DiffNewViewersPercentage:      percentChange(newViewers, prevNewViewers),
		DiffCustomersPercentage:       percentChange(curCustomers, prevCustomers),
		DiffAverageViewTimePercentage: percentChange(avgViewTime, prevAvgViewTime),
	}, nil
}

// DailyHistory computes one entry per day in [period.Start.Date,
// period.End.Date], zero-filling days with no activity (P6: exactly
// days_in_period entries).
func DailyHistory(ctx context.Context, ds DataSource, tenantID string, period Period, loc *time.Location) ([]DailyEntry, error) {
	sessions, err := ds.SessionsInRange(ctx, tenantID, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	visitCounts, err := ds.VisitCounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string][]Session)
	for _, s := range sessions {
		day := startOfDay(s.StartTS, loc).Format("2006-01-02")
		byDay[day] = append(byDay[day], s)
	}

	var entries []DailyEntry
	for d := startOfDay(period.Start, loc); !d.After(period.End); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		daySessions := byDay[key]
		entries = append(entries, DailyEntry{
			Date:               d,
			DayOfWeek:          dayNames[int(d.Weekday())],
			Viewers:            countDistinctUsers(daySessions),
			Customers:          countCustomersInSessions(daySessions, visitCounts),
			AverageViewTimeMin: averageViewTimeMinutes(daySessions),
		})
	}
	return entries, nil
}

func countDistinctUsers(sessions []Session) int {
	seen := make(map[string]bool)
	for _, s := range sessions {
		seen[s.UserID] = true
	}
	return len(seen)
}

// countCustomersInSessions counts distinct users among sessions whose
// all-time visit_count exceeds 1 — the inner-join semantics from
// advertise_service.py's daily_customers_dict.
func countCustomersInSessions(sessions []Session, visitCounts map[string]int) int {
	seen := make(map[string]bool)
	for _, s := range sessions {
		if visitCounts[s.UserID] > 1 {
			seen[s.UserID] = true
		}
	}
	return len(seen)
}

func countCustomers(visitCounts map[string]int) int {
	n := 0
	for _, count := range visitCounts {
		if count > 1 {
			n++
		}
	}
	return n
}

// countNewViewers counts users whose first-ever session falls within
// period.
func countNewViewers(firstSession map[string]time.Time, period Period) int {
	n := 0
	for _, t := range firstSession {
		if !t.Before(period.Start) && !t.After(period.End) {
			n++
		}
	}
	return n
}

func averageViewTimeMinutes(sessions []Session) int {
	if len(sessions) == 0 {
		return 0
	}
	total := 0
	for _, s := range sessions {
		total += s.DurationSeconds
	}
	avgSeconds := float64(total) / float64(len(sessions))
	return int(math.Floor(avgSeconds / 60))
}

// percentChange implements round((cur-prev)/prev*100) with prev=0 edge
// cases: 0 if cur=0, else 100. Rounds half-away-from-zero.
func percentChange(cur, prev int) int {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	ratio := float64(cur-prev) / float64(prev) * 100
	return roundHalfAwayFromZero(ratio)
}

func roundHalfAwayFromZero(v float64) int {
	if v >= 0 {
		return int(math.Floor(v + 0.5))
	}
	return -int(math.Floor(-v + 0.5))
}
