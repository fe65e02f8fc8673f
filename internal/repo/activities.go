package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskflow/internal/domain"
)

const activityColumns = `id,user_id,COALESCE(session_key,''),type,COALESCE(title,''),COALESCE(description,''),COALESCE(url,''),COALESCE(domain,''),COALESCE(application,''),COALESCE(task_id,''),COALESCE(board_id,''),COALESCE(category,''),duration,start_time,COALESCE(end_time,''),is_active,metadata_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (domain.Activity, error) {
	var a domain.Activity
	var category, start, end, created, updated, metadata string
	var active int
	err := row.Scan(&a.ID, &a.User, &a.SessionKey, &a.Type, &a.Title, &a.Description, &a.URL, &a.Domain, &a.Application,
		&a.TaskID, &a.BoardID, &category, &a.Duration, &start, &end, &active, &metadata, &created, &updated)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Category = domain.ParseCategoryRef(category)
	a.IsActive = active != 0
	if a.StartTime, err = parseTime(start); err != nil {
		return a, fmt.Errorf("activity %s start_time: %w", a.ID, err)
	}
	if end != "" {
		t, err := parseTime(end)
		if err != nil {
			return a, fmt.Errorf("activity %s end_time: %w", a.ID, err)
		}
		a.EndTime = &t
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return a, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return a, fmt.Errorf("activity %s metadata: %w", a.ID, err)
		}
	}
	return a, nil
}

func marshalMetadata(m domain.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// InsertActivity stores a new record. A second record for the same user and
// session key reports ErrConflict.
func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	meta, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO activities(id,user_id,session_key,type,title,description,url,domain,application,task_id,board_id,category,duration,start_time,end_time,is_active,metadata_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.User, nullable(a.SessionKey), string(a.Type), nullable(a.Title), nullable(a.Description), nullable(a.URL),
		nullable(a.Domain), nullable(a.Application), nullable(a.TaskID), nullable(a.BoardID), nullable(a.Category.String()),
		a.Duration, formatTime(a.StartTime), nullableTime(a.EndTime), boolInt(a.IsActive), meta,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return uniqueConflict(err)
}

// UpdateActivity rewrites the mutable fields of an activity owned by a.User.
func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	meta, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE activities SET title=?,description=?,url=?,domain=?,application=?,task_id=?,board_id=?,category=?,duration=?,end_time=?,is_active=?,metadata_json=?,updated_at=?
WHERE id=? AND user_id=?`,
		nullable(a.Title), nullable(a.Description), nullable(a.URL), nullable(a.Domain), nullable(a.Application),
		nullable(a.TaskID), nullable(a.BoardID), nullable(a.Category.String()), a.Duration, nullableTime(a.EndTime),
		boolInt(a.IsActive), meta, formatTime(a.UpdatedAt), a.ID, a.User)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetActivity(ctx context.Context, tx *sql.Tx, userID, id string) (domain.Activity, error) {
	return scanActivity(r.conn(tx).QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=? AND user_id=?`, id, userID))
}

func (r Repo) GetActivityBySession(ctx context.Context, tx *sql.Tx, userID, sessionKey string) (domain.Activity, error) {
	if sessionKey == "" {
		return domain.Activity{}, ErrNotFound
	}
	return scanActivity(r.conn(tx).QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE user_id=? AND session_key=?`, userID, sessionKey))
}

type ActivityFilters struct {
	UserID string
	// From and To bound start_time as [From, To).
	From  time.Time
	To    time.Time
	Type  domain.ActivityType
	Limit int
	// Ascending orders by start_time oldest first; the default is newest first.
	Ascending bool
}

func (r Repo) ListActivities(ctx context.Context, f ActivityFilters) ([]domain.Activity, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "start_time>=?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "start_time<?")
		args = append(args, formatTime(f.To))
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, string(f.Type))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := "start_time DESC, created_at DESC, id DESC"
	if f.Ascending {
		order = "start_time ASC, created_at ASC, id ASC"
	}
	query := `SELECT ` + activityColumns + ` FROM activities ` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UsersWithActivity returns the distinct users with an activity starting in
// [from, to).
func (r Repo) UsersWithActivity(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT user_id FROM activities WHERE start_time>=? AND start_time<? ORDER BY user_id`,
		formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteActivitiesBefore removes activities that started before cutoff.
func (r Repo) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM activities WHERE start_time<?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
