package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/classify"
	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/engine/auth"
	"taskflow/internal/events"
	"taskflow/internal/logger"
	"taskflow/internal/metrics"
	"taskflow/internal/repo"
)

// ErrInvalid marks caller input errors.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Publisher events.Publisher
	Auth      auth.Service
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Auth:   auth.Service{DB: db, Policy: auth.DefaultPolicy(cfg.Tracking.PrivilegedRoles)},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) location() *time.Location {
	return e.Config.Location()
}

func (e Engine) classifier(ctx context.Context) (*classify.Classifier, error) {
	cats, err := e.Repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	return classify.New(cats), nil
}

func (e Engine) publish(ctx context.Context, msg events.Message) {
	if e.Publisher == nil {
		return
	}
	if msg.TS.IsZero() {
		msg.TS = e.now().UTC()
	}
	if err := e.Publisher.Publish(context.WithoutCancel(ctx), msg); err != nil {
		metrics.PublishFailures.Inc()
		logger.Warn("publish %s for %s: %v", msg.Event, msg.UserID, err)
	}
}

// EnsureUser creates the user when missing and grants any roles given.
func (e Engine) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return domain.User{}, invalidf("user id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = e.now()
	}
	if err := e.Repo.EnsureUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("ensure user: %w", err)
	}
	for _, role := range u.Roles {
		if strings.TrimSpace(role) == "" {
			continue
		}
		if err := e.Repo.AssignRole(ctx, tx, u.ID, role); err != nil {
			return domain.User{}, fmt.Errorf("assign role: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, u.ID)
}

// CreateAPIKey issues a new random key for userID. The plain key is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.APIKey{}, invalidf("user id required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "tf_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureUser(ctx, tx, domain.User{ID: userID, CreatedAt: e.now()}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Record{Type: "apikey.create", UserID: userID, EntityKind: "api_key", EntityID: key.ID, Payload: events.EventPayload{"name": name}}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}
