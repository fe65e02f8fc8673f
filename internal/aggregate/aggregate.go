package aggregate

import (
	"sort"
	"time"

	"taskflow/internal/classify"
	"taskflow/internal/domain"
)

const DefaultTopN = 10

// DayWindow returns the [start, end) bounds of the calendar day containing t
// in loc.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// RangeWindow returns [start of startDay, start of the day after endDay).
func RangeWindow(startDay, endDay time.Time, loc *time.Location) (time.Time, time.Time) {
	start, _ := DayWindow(startDay, loc)
	_, end := DayWindow(endDay, loc)
	return start, end
}

func duration(a domain.Activity) int64 {
	if a.Duration < 0 {
		return 0
	}
	return a.Duration
}

// hourOf reports the bucket for an activity's start time; ok is false when
// the start time is missing.
func hourOf(a domain.Activity, loc *time.Location) (int, bool) {
	if a.StartTime.IsZero() {
		return 0, false
	}
	h := a.StartTime.In(loc).Hour()
	if h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}

// ordered accumulates per-key totals and remembers first-seen order so ties
// sort stably.
type ordered struct {
	keys   []string
	time   map[string]int64
	visits map[string]int
}

func newOrdered() *ordered {
	return &ordered{time: map[string]int64{}, visits: map[string]int{}}
}

func (o *ordered) add(key string, d int64) {
	if _, ok := o.time[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.time[key] += d
	o.visits[key]++
}

// ranked returns keys by descending time, ties in first-seen order.
func (o *ordered) ranked(limit int) []string {
	out := append([]string(nil), o.keys...)
	sort.SliceStable(out, func(i, j int) bool { return o.time[out[i]] > o.time[out[j]] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func bucket(tag domain.Tag, d int64, productive, neutral, distracting *int64) {
	switch tag {
	case domain.TagProductive:
		*productive += d
	case domain.TagDistracting:
		*distracting += d
	default:
		*neutral += d
	}
}

// DailySummary folds one day's activities. day must be the local midnight of
// the summarized date; its location drives the hour buckets.
func DailySummary(user string, day time.Time, acts []domain.Activity, c *classify.Classifier, topN int) domain.DailySummary {
	if topN <= 0 {
		topN = DefaultTopN
	}
	loc := day.Location()
	s := domain.DailySummary{User: user, Date: day}
	for h := range s.HourlyBreakdown {
		s.HourlyBreakdown[h].Hour = h
	}

	sites := newOrdered()
	apps := newOrdered()
	cats := newOrdered()
	catMeta := map[string]domain.CategoryTime{}

	for _, a := range acts {
		d := duration(a)
		s.TotalTime += d
		tag := c.Resolve(a.Category)
		bucket(tag, d, &s.ProductiveTime, &s.NeutralTime, &s.DistractingTime)

		key, name := c.Identity(a.Category)
		cats.add(key, d)
		if _, ok := catMeta[key]; !ok {
			catMeta[key] = domain.CategoryTime{Category: key, Name: name, Type: tag}
		}

		if a.Domain != "" {
			sites.add(a.Domain, d)
		}
		if a.Application != "" {
			apps.add(a.Application, d)
		}
		if h, ok := hourOf(a, loc); ok {
			s.HourlyBreakdown[h].Time += d
		}
	}

	s.TopWebsites = []domain.WebsiteTime{}
	for _, k := range sites.ranked(topN) {
		s.TopWebsites = append(s.TopWebsites, domain.WebsiteTime{Domain: k, Time: sites.time[k], Visits: sites.visits[k]})
	}
	s.TopApplications = []domain.AppTime{}
	for _, k := range apps.ranked(topN) {
		s.TopApplications = append(s.TopApplications, domain.AppTime{Name: k, Time: apps.time[k]})
	}
	s.Categories = []domain.CategoryTime{}
	for _, k := range cats.ranked(0) {
		ct := catMeta[k]
		ct.Time = cats.time[k]
		s.Categories = append(s.Categories, ct)
	}
	return s
}

// RangeStatistics folds activities over an arbitrary window. Nothing is
// truncated and the output depends only on the input order.
func RangeStatistics(start, end time.Time, acts []domain.Activity, c *classify.Classifier, loc *time.Location) domain.RangeStatistics {
	if loc == nil {
		loc = time.Local
	}
	st := domain.RangeStatistics{
		StartDate:       start,
		EndDate:         end,
		TotalActivities: len(acts),
		ByType:          map[string]domain.CountTime{},
		ByCategory:      map[string]domain.CategoryStat{},
		TopDomains:      []domain.DomainTime{},
		TopApps:         []domain.AppTime{},
	}
	for h := range st.ByHour {
		st.ByHour[h].Hour = h
	}

	domains := newOrdered()
	apps := newOrdered()
	for _, a := range acts {
		d := duration(a)
		st.TotalTime += d
		tag := c.Resolve(a.Category)
		bucket(tag, d, &st.ProductiveTime, &st.NeutralTime, &st.DistractingTime)

		ct := st.ByType[string(a.Type)]
		ct.Count++
		ct.Time += d
		st.ByType[string(a.Type)] = ct

		key, _ := c.Identity(a.Category)
		cs := st.ByCategory[key]
		cs.Count++
		cs.Time += d
		cs.Type = tag
		st.ByCategory[key] = cs

		if h, ok := hourOf(a, loc); ok {
			st.ByHour[h].Count++
			st.ByHour[h].Time += d
		}
		if a.Domain != "" {
			domains.add(a.Domain, d)
		}
		if a.Application != "" {
			apps.add(a.Application, d)
		}
	}
	for _, k := range domains.ranked(0) {
		st.TopDomains = append(st.TopDomains, domain.DomainTime{Domain: k, Time: domains.time[k]})
	}
	for _, k := range apps.ranked(0) {
		st.TopApps = append(st.TopApps, domain.AppTime{Name: k, Time: apps.time[k]})
	}
	return st
}
