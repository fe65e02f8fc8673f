package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskflow/internal/domain"
)

// EnsureUser creates the user if missing. Existing names are kept.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id required")
	}
	name := u.Name
	if name == "" {
		name = u.ID
	}
	_, err := r.conn(tx).ExecContext(ctx, `INSERT OR IGNORE INTO users(id,name,email,created_at) VALUES (?,?,?,?)`,
		u.ID, name, nullable(u.Email), formatTime(u.CreatedAt))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var created string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &created)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return u, err
	}
	u.Roles, err = r.UserRoles(ctx, nil, id)
	return u, err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, userID, role string) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role) VALUES (?,?)`, userID, role)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, userID, role string) error {
	_, err := r.conn(tx).ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role=?`, userID, role)
	return err
}

func (r Repo) UserRoles(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=? ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
