package engine

import (
	"context"

	"taskflow/internal/aggregate"
	"taskflow/internal/repo"
)

// CleanupResult reports rows removed by a retention pass.
type CleanupResult struct {
	Activities int64 `json:"activities"`
	Summaries  int64 `json:"summaries"`
}

// Cleanup drops activities and summaries older than storage.retention_days.
// A zero retention keeps everything.
func (e Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	days := e.Config.Storage.RetentionDays
	if days <= 0 {
		return res, nil
	}
	cutoff, _ := aggregate.DayWindow(e.now().AddDate(0, 0, -days), e.location())
	n, err := e.Repo.DeleteActivitiesBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Activities = n
	if res.Summaries, err = e.Repo.DeleteSummariesBefore(ctx, cutoff.Format(repo.DateLayout)); err != nil {
		return res, err
	}
	return res, nil
}
