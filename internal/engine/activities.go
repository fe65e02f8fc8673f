package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/aggregate"
	"taskflow/internal/classify"
	"taskflow/internal/domain"
	"taskflow/internal/engine/auth"
	"taskflow/internal/events"
	"taskflow/internal/metrics"
	"taskflow/internal/repo"
)

// MinDuration is the emitter floor; shorter records are accepted but counted.
const MinDuration = 5

// RecordActivity stores an activity for the actor. When SessionKey matches an
// existing record of the same user, that record is continued instead: the
// duration never decreases and metadata is merged. The bool result reports
// whether a new record was created.
func (e Engine) RecordActivity(ctx context.Context, actor auth.Actor, in domain.Activity) (domain.Activity, bool, error) {
	if actor.ID == "" {
		return domain.Activity{}, false, invalidf("user required")
	}
	if !in.Type.Valid() {
		return domain.Activity{}, false, invalidf("type %q", in.Type)
	}
	now := e.now()
	in.User = actor.ID
	in.SessionKey = strings.TrimSpace(in.SessionKey)
	if in.Duration < 0 {
		in.Duration = 0
	}
	if in.StartTime.IsZero() {
		in.StartTime = now.Add(-time.Duration(in.Duration) * time.Second)
	}
	if in.Domain == "" && in.URL != "" {
		in.Domain = hostOf(in.URL)
	} else {
		in.Domain = classify.NormalizeDomain(in.Domain)
	}

	cl, err := e.classifier(ctx)
	if err != nil {
		return domain.Activity{}, false, err
	}

	// Two first snapshots of one session can race to insert; the loser
	// continues the winner's record.
	saved, created, err := e.saveActivity(ctx, actor.ID, in, cl, now)
	if errors.Is(err, repo.ErrConflict) {
		saved, created, err = e.saveActivity(ctx, actor.ID, in, cl, now)
	}
	if err != nil {
		return domain.Activity{}, false, err
	}
	in = saved

	outcome := "continued"
	if created {
		outcome = "created"
	}
	metrics.ActivitiesSaved.WithLabelValues(string(in.Type), outcome).Inc()
	if in.Duration < MinDuration {
		metrics.ShortActivities.Inc()
	}
	e.publish(ctx, events.Message{Event: events.ActivityUpdate, UserID: actor.ID, Data: in})
	return in, created, nil
}

func (e Engine) saveActivity(ctx context.Context, userID string, in domain.Activity, cl *classify.Classifier, now time.Time) (domain.Activity, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Activity{}, false, err
	}
	defer tx.Rollback()

	created := false
	existing, err := e.Repo.GetActivityBySession(ctx, tx, userID, in.SessionKey)
	switch {
	case err == nil:
		existing = continueActivity(existing, in, now)
		if existing.Category.IsZero() {
			existing.Category = cl.Categorize(existing)
		}
		if err := e.Repo.UpdateActivity(ctx, tx, existing); err != nil {
			return domain.Activity{}, false, fmt.Errorf("update activity: %w", err)
		}
		in = existing
	case errors.Is(err, repo.ErrNotFound):
		created = true
		in.ID = uuid.NewString()
		in.Category = cl.Categorize(in)
		in.CreatedAt = now
		in.UpdatedAt = now
		if err := e.Repo.InsertActivity(ctx, tx, in); err != nil {
			return domain.Activity{}, false, fmt.Errorf("insert activity: %w", err)
		}
	default:
		return domain.Activity{}, false, err
	}

	if err := e.Events.Append(ctx, tx, events.Record{
		Type: "activity.save", UserID: userID, EntityKind: "activity", EntityID: in.ID,
		Payload: events.EventPayload{
			"type":     in.Type,
			"duration": in.Duration,
			"isActive": in.IsActive,
			"created":  created,
		},
	}); err != nil {
		return domain.Activity{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Activity{}, false, err
	}
	return in, created, nil
}

// staleSnapshot reports whether in was taken before the stored state of the
// session: a shorter duration, or an active snapshot of a session already
// closed at the same duration.
func staleSnapshot(cur, in domain.Activity) bool {
	if in.Duration != cur.Duration {
		return in.Duration < cur.Duration
	}
	return in.IsActive && !cur.IsActive
}

// continueActivity folds a later snapshot into the stored record. A stale
// snapshot leaves it unchanged.
func continueActivity(cur, in domain.Activity, now time.Time) domain.Activity {
	if staleSnapshot(cur, in) {
		return cur
	}
	if in.Duration > cur.Duration {
		cur.Duration = in.Duration
	}
	if in.Title != "" {
		cur.Title = in.Title
	}
	if in.Description != "" {
		cur.Description = in.Description
	}
	if in.URL != "" {
		cur.URL = in.URL
	}
	if !in.Category.IsZero() {
		cur.Category = in.Category
	}
	if in.EndTime != nil {
		cur.EndTime = in.EndTime
	}
	cur.IsActive = in.IsActive
	cur.Metadata = cur.Metadata.Merge(in.Metadata)
	cur.UpdatedAt = now
	return cur
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return classify.NormalizeDomain(raw)
	}
	return classify.NormalizeDomain(u.Host)
}

// ActivityPatch carries the fields a caller may change on an owned activity.
type ActivityPatch struct {
	Title       *string
	Description *string
	Duration    *int64
	EndTime     *time.Time
	IsActive    *bool
	Category    *domain.CategoryRef
	Metadata    domain.Metadata
}

// UpdateActivity applies a partial update. Activities of other users are
// reported as not found.
func (e Engine) UpdateActivity(ctx context.Context, actor auth.Actor, id string, p ActivityPatch) (domain.Activity, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Activity{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetActivity(ctx, tx, actor.ID, id)
	if err != nil {
		return domain.Activity{}, err
	}
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Duration != nil {
		if *p.Duration < 0 {
			return domain.Activity{}, invalidf("duration must be >= 0")
		}
		if *p.Duration > a.Duration {
			a.Duration = *p.Duration
		}
	}
	if p.EndTime != nil {
		a.EndTime = p.EndTime
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	a.Metadata = a.Metadata.Merge(p.Metadata)
	a.UpdatedAt = e.now()
	if err := e.Repo.UpdateActivity(ctx, tx, a); err != nil {
		return domain.Activity{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type: "activity.update", UserID: actor.ID, EntityKind: "activity", EntityID: a.ID,
		Payload: events.EventPayload{"duration": a.Duration, "isActive": a.IsActive},
	}); err != nil {
		return domain.Activity{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Activity{}, err
	}
	metrics.ActivitiesSaved.WithLabelValues(string(a.Type), "updated").Inc()
	e.publish(ctx, events.Message{Event: events.ActivityUpdate, UserID: actor.ID, Data: a})
	return a, nil
}

// ListActivities returns the actor's activities whose start falls in the
// inclusive calendar-day window, newest first. Zero dates leave that side open.
func (e Engine) ListActivities(ctx context.Context, actor auth.Actor, startDate, endDate time.Time, typ domain.ActivityType) ([]domain.Activity, error) {
	if typ != "" && !typ.Valid() {
		return nil, invalidf("type %q", typ)
	}
	f := repo.ActivityFilters{UserID: actor.ID, Type: typ}
	loc := e.location()
	if !startDate.IsZero() {
		f.From, _ = aggregate.DayWindow(startDate, loc)
	}
	if !endDate.IsZero() {
		_, f.To = aggregate.DayWindow(endDate, loc)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, invalidf("startDate must not be after endDate")
	}
	return e.Repo.ListActivities(ctx, f)
}
