package server

import (
	"time"

	"taskflow/internal/domain"
)

// Request payloads

type SaveActivityRequest struct {
	SessionKey  string         `json:"sessionKey,omitempty"`
	Type        string         `json:"type" enum:"website,application,tab,task"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Application string         `json:"application,omitempty"`
	TaskID      string         `json:"taskId,omitempty"`
	BoardID     string         `json:"boardId,omitempty"`
	Category    string         `json:"category,omitempty" doc:"productive, neutral, distracting or a category id"`
	Duration    int64          `json:"duration,omitempty" doc:"seconds"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	IsActive    bool           `json:"isActive,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (r SaveActivityRequest) toDomain() domain.Activity {
	a := domain.Activity{
		SessionKey:  r.SessionKey,
		Type:        domain.ActivityType(r.Type),
		Title:       r.Title,
		Description: r.Description,
		URL:         r.URL,
		Domain:      r.Domain,
		Application: r.Application,
		TaskID:      r.TaskID,
		BoardID:     r.BoardID,
		Category:    domain.ParseCategoryRef(r.Category),
		Duration:    r.Duration,
		EndTime:     r.EndTime,
		IsActive:    r.IsActive,
		Metadata:    domain.Metadata(r.Metadata),
	}
	if r.StartTime != nil {
		a.StartTime = *r.StartTime
	}
	return a
}

type UpdateActivityRequest struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Duration    *int64         `json:"duration,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	IsActive    *bool          `json:"isActive,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CategoryRequest struct {
	Name         string   `json:"name"`
	Color        string   `json:"color,omitempty"`
	Type         string   `json:"type" enum:"productive,neutral,distracting"`
	Domains      []string `json:"domains,omitempty"`
	Applications []string `json:"applications,omitempty"`
	Position     *int     `json:"position,omitempty"`
}

type DevLoginRequest struct {
	UserID string   `json:"userId"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Responses

type ActivityResponse struct {
	ID          string         `json:"id"`
	User        string         `json:"user"`
	SessionKey  string         `json:"sessionKey,omitempty"`
	Type        string         `json:"type"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	Application string         `json:"application,omitempty"`
	TaskID      string         `json:"taskId,omitempty"`
	BoardID     string         `json:"boardId,omitempty"`
	Category    *string        `json:"category"`
	Duration    int64          `json:"duration"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	IsActive    bool           `json:"isActive"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func mapActivity(a domain.Activity) ActivityResponse {
	out := ActivityResponse{
		ID:          a.ID,
		User:        a.User,
		SessionKey:  a.SessionKey,
		Type:        string(a.Type),
		Title:       a.Title,
		Description: a.Description,
		URL:         a.URL,
		Domain:      a.Domain,
		Application: a.Application,
		TaskID:      a.TaskID,
		BoardID:     a.BoardID,
		Duration:    a.Duration,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		IsActive:    a.IsActive,
		Metadata:    a.Metadata,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if !a.Category.IsZero() {
		s := a.Category.String()
		out.Category = &s
	}
	return out
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, mapActivity(a))
	}
	return out
}

type MeResponse struct {
	UserID      string   `json:"userId"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
