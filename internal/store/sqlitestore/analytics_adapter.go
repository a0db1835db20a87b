package sqlitestore

import (
	"context"
	"time"

	"github.com/facehive/facehive/internal/analytics"
)

// AnalyticsSource adapts Store to internal/analytics.DataSource, converting
// store.ViewingSession rows into analytics.Session values.
type AnalyticsSource struct {
	store *Store
}

// NewAnalyticsSource wraps s for use as an analytics.DataSource.
func NewAnalyticsSource(s *Store) *AnalyticsSource {
	return &AnalyticsSource{store: s}
}

func (a *AnalyticsSource) AllTimeDistinctUsers(ctx context.Context, tenantID string) (int, error) {
	return a.store.AllTimeDistinctUsers(ctx, tenantID)
}

func (a *AnalyticsSource) FirstSessionTime(ctx context.Context, tenantID string) (map[string]time.Time, error) {
	return a.store.FirstSessionTime(ctx, tenantID)
}

func (a *AnalyticsSource) SessionsInRange(ctx context.Context, tenantID string, start, end time.Time) ([]analytics.Session, error) {
	rows, err := a.store.SessionsInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]analytics.Session, len(rows))
	for i, r := range rows {
		out[i] = analytics.Session{
			UserID:          r.UserID,
			StartTS:         r.StartTS,
			DurationSeconds: r.DurationSeconds,
		}
	}
	return out, nil
}

func (a *AnalyticsSource) VisitCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	return a.store.VisitCounts(ctx, tenantID)
}
