package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskflow/internal/classify"
	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/engine/auth"
	"taskflow/internal/events"
)

type CategoryInput struct {
	Name         string
	Color        string
	Type         string
	Domains      []string
	Applications []string
	Position     *int
}

func (in CategoryInput) validate() (domain.Tag, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", invalidf("name required")
	}
	tag, ok := domain.ParseTag(in.Type)
	if !ok {
		return "", invalidf("category type %q", in.Type)
	}
	return tag, nil
}

func cleanList(in []string, normalize func(string) string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if normalize != nil {
			v = normalize(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (e Engine) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return e.Repo.ListCategories(ctx)
}

func (e Engine) CreateCategory(ctx context.Context, actor auth.Actor, in CategoryInput) (domain.Category, error) {
	tag, err := in.validate()
	if err != nil {
		return domain.Category{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Category{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actor, auth.PermCategoriesManage); err != nil {
		return domain.Category{}, err
	}
	c := domain.Category{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Color:        in.Color,
		Type:         tag,
		Domains:      cleanList(in.Domains, classify.NormalizeDomain),
		Applications: cleanList(in.Applications, nil),
		CreatedAt:    e.now(),
	}
	if in.Position != nil {
		c.Position = *in.Position
	} else if c.Position, err = e.Repo.NextCategoryPosition(ctx, tx); err != nil {
		return domain.Category{}, err
	}
	if err := e.Repo.InsertCategory(ctx, tx, c); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return domain.Category{}, invalidf("category %s already exists", c.Name)
		}
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Record{Type: "category.create", UserID: actor.ID, EntityKind: "category", EntityID: c.ID, Payload: events.EventPayload{"name": c.Name, "type": c.Type}}); err != nil {
		return domain.Category{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Category{}, err
	}
	return c, nil
}

func (e Engine) UpdateCategory(ctx context.Context, actor auth.Actor, id string, in CategoryInput) (domain.Category, error) {
	tag, err := in.validate()
	if err != nil {
		return domain.Category{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Category{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actor, auth.PermCategoriesManage); err != nil {
		return domain.Category{}, err
	}
	c, err := e.Repo.GetCategory(ctx, tx, id)
	if err != nil {
		return domain.Category{}, err
	}
	c.Name = strings.TrimSpace(in.Name)
	c.Color = in.Color
	c.Type = tag
	c.Domains = cleanList(in.Domains, classify.NormalizeDomain)
	c.Applications = cleanList(in.Applications, nil)
	if in.Position != nil {
		c.Position = *in.Position
	}
	if err := e.Repo.UpdateCategory(ctx, tx, c); err != nil {
		return domain.Category{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Record{Type: "category.update", UserID: actor.ID, EntityKind: "category", EntityID: c.ID, Payload: events.EventPayload{"name": c.Name, "type": c.Type}}); err != nil {
		return domain.Category{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Category{}, err
	}
	return c, nil
}

// DeleteCategory removes a category. Activities referencing it keep the
// reference and resolve to neutral from then on.
func (e Engine) DeleteCategory(ctx context.Context, actor auth.Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actor, auth.PermCategoriesManage); err != nil {
		return err
	}
	if err := e.Repo.DeleteCategory(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Record{Type: "category.delete", UserID: actor.ID, EntityKind: "category", EntityID: id}); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedCategories inserts seeds when no category exists yet and returns how
// many were written.
func (e Engine) SeedCategories(ctx context.Context, seeds []config.CategorySeed) (int, error) {
	n, err := e.Repo.CountCategories(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 || len(seeds) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	now := e.now()
	for i, s := range seeds {
		tag, ok := domain.ParseTag(s.Type)
		if !ok {
			return 0, invalidf("category %s type %q", s.Name, s.Type)
		}
		c := domain.Category{
			ID:           uuid.NewString(),
			Name:         s.Name,
			Color:        s.Color,
			Type:         tag,
			Domains:      cleanList(s.Domains, classify.NormalizeDomain),
			Applications: cleanList(s.Applications, nil),
			Position:     i,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertCategory(ctx, tx, c); err != nil {
			return 0, fmt.Errorf("seed %s: %w", s.Name, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.Record{Type: "category.seed", EntityKind: "category", Payload: events.EventPayload{"count": len(seeds)}}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(seeds), nil
}
