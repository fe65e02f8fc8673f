package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	PermCategoriesManage  = "categories.manage"
	PermTrackingConfigure = "tracking.configure"
	PermSummariesRefresh  = "summaries.refresh"
)

// AllPermissions lists every permission granted to privileged roles.
var AllPermissions = []string{PermCategoriesManage, PermTrackingConfigure, PermSummariesRefresh}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Roles []string
}

// Policy maps role names to the permissions they grant.
type Policy map[string][]string

// DefaultPolicy grants every permission to the privileged roles and nothing
// to anyone else.
func DefaultPolicy(privileged []string) Policy {
	if len(privileged) == 0 {
		privileged = []string{"admin"}
	}
	p := Policy{}
	for _, role := range privileged {
		p[role] = append([]string(nil), AllPermissions...)
	}
	return p
}

func (p Policy) Allows(a Actor, perm string) bool {
	for _, role := range a.Roles {
		for _, granted := range p[role] {
			if granted == perm {
				return true
			}
		}
	}
	return false
}

// Require returns ForbiddenError unless a holds perm.
func (p Policy) Require(a Actor, perm string) error {
	if p.Allows(a, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// Permissions returns the distinct permissions held by roles, in grant order.
func (p Policy) Permissions(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, role := range roles {
		for _, perm := range p[role] {
			if !seen[perm] {
				seen[perm] = true
				out = append(out, perm)
			}
		}
	}
	return out
}

// Service resolves stored roles for users.
type Service struct {
	DB     *sql.DB
	Policy Policy
}

func (s Service) UserRoles(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	query := `SELECT role FROM user_roles WHERE user_id=? ORDER BY role`
	var (
		rows *sql.Rows
		err  error
	)
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, userID)
	} else {
		rows, err = s.DB.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// Require checks perm against the union of the actor's token roles and the
// roles stored for the user.
func (s Service) Require(ctx context.Context, tx *sql.Tx, a Actor, perm string) error {
	if s.Policy.Allows(a, perm) {
		return nil
	}
	if s.DB == nil && tx == nil {
		return ForbiddenError{Permission: perm}
	}
	stored, err := s.UserRoles(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	return s.Policy.Require(Actor{ID: a.ID, Roles: stored}, perm)
}
