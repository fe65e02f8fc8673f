package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/aggregate"
	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/metrics"
	"taskflow/internal/repo"
)

// DailySummary returns the summary for the calendar day containing date in
// the server location. Under the cache and refresh-nightly policies a stored
// summary is returned as is; under recompute it is rebuilt on every call.
func (e Engine) DailySummary(ctx context.Context, userID string, date time.Time) (domain.DailySummary, error) {
	if userID == "" {
		return domain.DailySummary{}, invalidf("user required")
	}
	if date.IsZero() {
		date = e.now()
	}
	day, _ := aggregate.DayWindow(date, e.location())
	if e.Config.Policy() != config.PolicyRecompute {
		s, err := e.Repo.GetDailySummary(ctx, userID, day.Format(repo.DateLayout), e.location())
		if err == nil {
			metrics.SummaryRequests.WithLabelValues("cached").Inc()
			return s, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.DailySummary{}, err
		}
	}
	metrics.SummaryRequests.WithLabelValues("computed").Inc()
	return e.computeDailySummary(ctx, userID, day)
}

// computeDailySummary folds and stores the summary for day (a local midnight).
func (e Engine) computeDailySummary(ctx context.Context, userID string, day time.Time) (domain.DailySummary, error) {
	started := time.Now()
	defer func() { metrics.AggregationDuration.WithLabelValues("daily").Observe(time.Since(started).Seconds()) }()

	start, end := aggregate.DayWindow(day, e.location())
	acts, err := e.Repo.ListActivities(ctx, repo.ActivityFilters{UserID: userID, From: start, To: end, Ascending: true})
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("load activities: %w", err)
	}
	cl, err := e.classifier(ctx)
	if err != nil {
		return domain.DailySummary{}, err
	}
	s := aggregate.DailySummary(userID, start, acts, cl, e.Config.Analytics.TopN)
	s.ID = uuid.NewString()
	s.ComputedAt = e.now().UTC()
	if err := e.Repo.UpsertDailySummary(ctx, nil, s); err != nil {
		return domain.DailySummary{}, fmt.Errorf("store summary: %w", err)
	}
	return s, nil
}

// RefreshDailySummaries recomputes the summary of the given day for every user
// with activity that day. It returns the number of summaries written.
func (e Engine) RefreshDailySummaries(ctx context.Context, date time.Time) (int, error) {
	start, end := aggregate.DayWindow(date, e.location())
	users, err := e.Repo.UsersWithActivity(ctx, start, end)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := e.computeDailySummary(ctx, u, start); err != nil {
			return n, fmt.Errorf("refresh %s: %w", u, err)
		}
		n++
	}
	return n, nil
}

// RangeStatistics folds the user's activities over the inclusive calendar-day
// range. Nothing is stored.
func (e Engine) RangeStatistics(ctx context.Context, userID string, startDate, endDate time.Time) (domain.RangeStatistics, error) {
	if userID == "" {
		return domain.RangeStatistics{}, invalidf("user required")
	}
	if startDate.IsZero() || endDate.IsZero() {
		return domain.RangeStatistics{}, invalidf("startDate and endDate are required")
	}
	started := time.Now()
	defer func() { metrics.AggregationDuration.WithLabelValues("range").Observe(time.Since(started).Seconds()) }()

	loc := e.location()
	start, end := aggregate.RangeWindow(startDate, endDate, loc)
	if !start.Before(end) {
		return domain.RangeStatistics{}, invalidf("startDate must not be after endDate")
	}
	acts, err := e.Repo.ListActivities(ctx, repo.ActivityFilters{UserID: userID, From: start, To: end, Ascending: true})
	if err != nil {
		return domain.RangeStatistics{}, fmt.Errorf("load activities: %w", err)
	}
	cl, err := e.classifier(ctx)
	if err != nil {
		return domain.RangeStatistics{}, err
	}
	return aggregate.RangeStatistics(start, end, acts, cl, loc), nil
}
