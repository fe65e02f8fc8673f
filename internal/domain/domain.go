package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type ActivityType string

const (
	ActivityWebsite     ActivityType = "website"
	ActivityApplication ActivityType = "application"
	ActivityTab         ActivityType = "tab"
	ActivityTask        ActivityType = "task"
)

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityWebsite, ActivityApplication, ActivityTab, ActivityTask:
		return true
	}
	return false
}

// Tag is the productivity classification of a category.
type Tag string

const (
	TagProductive  Tag = "productive"
	TagNeutral     Tag = "neutral"
	TagDistracting Tag = "distracting"
)

// ParseTag returns the tag named by s, if any.
func ParseTag(s string) (Tag, bool) {
	switch Tag(strings.ToLower(strings.TrimSpace(s))) {
	case TagProductive:
		return TagProductive, true
	case TagNeutral:
		return TagNeutral, true
	case TagDistracting:
		return TagDistracting, true
	}
	return "", false
}

// CategoryRef is either a literal tag or a reference to a Category by ID.
// The zero value means "no category".
type CategoryRef struct {
	Tag Tag
	ID  string
}

func LiteralCategory(t Tag) CategoryRef { return CategoryRef{Tag: t} }

func CategoryReference(id string) CategoryRef { return CategoryRef{ID: id} }

// ParseCategoryRef maps a wire string onto the variant: known tags become
// literals, anything else is treated as a category ID.
func ParseCategoryRef(s string) CategoryRef {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryRef{}
	}
	if t, ok := ParseTag(s); ok {
		return LiteralCategory(t)
	}
	return CategoryReference(s)
}

func (r CategoryRef) IsZero() bool      { return r.Tag == "" && r.ID == "" }
func (r CategoryRef) IsLiteral() bool   { return r.Tag != "" }
func (r CategoryRef) IsReference() bool { return r.Tag == "" && r.ID != "" }

// String returns the wire form: the tag for literals, the ID for references.
func (r CategoryRef) String() string {
	if r.Tag != "" {
		return string(r.Tag)
	}
	return r.ID
}

func (r CategoryRef) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(r.String())
}

func (r *CategoryRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = CategoryRef{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseCategoryRef(s)
	return nil
}

type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Color        string    `json:"color,omitempty"`
	Type         Tag       `json:"type"`
	Domains      []string  `json:"domains"`
	Applications []string  `json:"applications"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Metadata is the free-form bag attached to an activity.
type Metadata map[string]any

// Merge copies every key of other into m, returning m (allocated if nil).
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil {
		m = Metadata{}
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

type Activity struct {
	ID          string       `json:"id"`
	User        string       `json:"user"`
	SessionKey  string       `json:"sessionKey,omitempty"`
	Type        ActivityType `json:"type"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Domain      string       `json:"domain,omitempty"`
	Application string       `json:"application,omitempty"`
	TaskID      string       `json:"taskId,omitempty"`
	BoardID     string       `json:"boardId,omitempty"`
	Category    CategoryRef  `json:"category"`
	Duration    int64        `json:"duration"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	IsActive    bool         `json:"isActive"`
	Metadata    Metadata     `json:"metadata,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type WebsiteTime struct {
	Domain string `json:"domain"`
	Time   int64  `json:"time"`
	Visits int    `json:"visits"`
}

type AppTime struct {
	Name string `json:"name"`
	Time int64  `json:"time"`
}

// CategoryTime is keyed by the resolved category identity: the category ID for
// references, the tag itself for literals.
type CategoryTime struct {
	Category string `json:"category"`
	Name     string `json:"name,omitempty"`
	Type     Tag    `json:"type"`
	Time     int64  `json:"time"`
}

type HourBucket struct {
	Hour int   `json:"hour"`
	Time int64 `json:"time"`
}

type DailySummary struct {
	ID              string         `json:"id"`
	User            string         `json:"user"`
	Date            time.Time      `json:"date"`
	TotalTime       int64          `json:"totalTime"`
	ProductiveTime  int64          `json:"productiveTime"`
	NeutralTime     int64          `json:"neutralTime"`
	DistractingTime int64          `json:"distractingTime"`
	TopWebsites     []WebsiteTime  `json:"topWebsites"`
	TopApplications []AppTime      `json:"topApplications"`
	Categories      []CategoryTime `json:"categories"`
	HourlyBreakdown [24]HourBucket `json:"hourlyBreakdown"`
	ComputedAt      time.Time      `json:"computedAt"`
}

type CountTime struct {
	Count int   `json:"count"`
	Time  int64 `json:"time"`
}

type CategoryStat struct {
	Count int   `json:"count"`
	Time  int64 `json:"time"`
	Type  Tag   `json:"type"`
}

type HourStat struct {
	Hour  int   `json:"hour"`
	Count int   `json:"count"`
	Time  int64 `json:"time"`
}

type DomainTime struct {
	Domain string `json:"domain"`
	Time   int64  `json:"time"`
}

// RangeStatistics is computed on demand and never persisted.
type RangeStatistics struct {
	StartDate       time.Time               `json:"startDate"`
	EndDate         time.Time               `json:"endDate"`
	TotalActivities int                     `json:"totalActivities"`
	TotalTime       int64                   `json:"totalTime"`
	ProductiveTime  int64                   `json:"productiveTime"`
	NeutralTime     int64                   `json:"neutralTime"`
	DistractingTime int64                   `json:"distractingTime"`
	ByType          map[string]CountTime    `json:"byType"`
	ByCategory      map[string]CategoryStat `json:"byCategory"`
	ByHour          [24]HourStat            `json:"byHour"`
	TopDomains      []DomainTime            `json:"topDomains"`
	TopApps         []AppTime               `json:"topApps"`
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

type APIKey struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"-"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	LastUsedAt string `json:"last_used_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
