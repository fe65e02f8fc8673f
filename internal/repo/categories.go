package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"taskflow/internal/domain"
)

const categoryColumns = `id,name,COALESCE(color,''),type,domains_json,applications_json,position,created_at`

func scanCategory(row scanner) (domain.Category, error) {
	var c domain.Category
	var domains, apps, created string
	err := row.Scan(&c.ID, &c.Name, &c.Color, &c.Type, &domains, &apps, &c.Position, &created)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(domains), &c.Domains); err != nil {
		return c, fmt.Errorf("category %s domains: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(apps), &c.Applications); err != nil {
		return c, fmt.Errorf("category %s applications: %w", c.ID, err)
	}
	if c.Domains == nil {
		c.Domains = []string{}
	}
	if c.Applications == nil {
		c.Applications = []string{}
	}
	c.CreatedAt, err = parseTime(created)
	return c, err
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	return string(data), err
}

func (r Repo) InsertCategory(ctx context.Context, tx *sql.Tx, c domain.Category) error {
	domains, err := marshalList(c.Domains)
	if err != nil {
		return err
	}
	apps, err := marshalList(c.Applications)
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO categories(id,name,color,type,domains_json,applications_json,position,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Color), string(c.Type), domains, apps, c.Position, formatTime(c.CreatedAt))
	return err
}

func (r Repo) UpdateCategory(ctx context.Context, tx *sql.Tx, c domain.Category) error {
	domains, err := marshalList(c.Domains)
	if err != nil {
		return err
	}
	apps, err := marshalList(c.Applications)
	if err != nil {
		return err
	}
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE categories SET name=?,color=?,type=?,domains_json=?,applications_json=?,position=? WHERE id=?`,
		c.Name, nullable(c.Color), string(c.Type), domains, apps, c.Position, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCategory(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM categories WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCategory(ctx context.Context, tx *sql.Tx, id string) (domain.Category, error) {
	return scanCategory(r.conn(tx).QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id=?`, id))
}

// ListCategories returns categories in lookup order.
func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY position ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// NextCategoryPosition returns the position after the last category.
func (r Repo) NextCategoryPosition(ctx context.Context, tx *sql.Tx) (int, error) {
	var pos int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM categories`).Scan(&pos)
	return pos, err
}

func (r Repo) CountCategories(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n)
	return n, err
}
