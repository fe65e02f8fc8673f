package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"taskflow/internal/domain"
)

// GetDailySummary loads the stored summary for a user and calendar date
// (formatted with DateLayout). The stored Date is rebuilt in loc.
func (r Repo) GetDailySummary(ctx context.Context, userID, date string, loc *time.Location) (domain.DailySummary, error) {
	var s domain.DailySummary
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM daily_summaries WHERE user_id=? AND date=?`, userID, date).Scan(&payload)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, fmt.Errorf("summary %s/%s: %w", userID, date, err)
	}
	if loc != nil {
		s.Date = s.Date.In(loc)
	}
	return s, nil
}

// UpsertDailySummary stores s, replacing any summary for the same user and date.
func (r Repo) UpsertDailySummary(ctx context.Context, tx *sql.Tx, s domain.DailySummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO daily_summaries(id,user_id,date,payload_json,computed_at) VALUES (?,?,?,?,?)
ON CONFLICT(user_id,date) DO UPDATE SET payload_json=excluded.payload_json, computed_at=excluded.computed_at`,
		s.ID, s.User, s.Date.Format(DateLayout), string(payload), formatTime(s.ComputedAt))
	return err
}

// DeleteSummariesBefore drops summaries for dates strictly before date.
func (r Repo) DeleteSummariesBefore(ctx context.Context, date string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM daily_summaries WHERE date<?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
