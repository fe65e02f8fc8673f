package aggregate

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskflow/internal/classify"
	"taskflow/internal/domain"
)

var utc = time.UTC

func day() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, utc) }

func at(h, m, s int) time.Time { return time.Date(2026, 3, 10, h, m, s, 0, utc) }

func TestDailySummaryGithubYoutube(t *testing.T) {
	acts := []domain.Activity{
		{Type: domain.ActivityWebsite, Domain: "github.com", Duration: 120, StartTime: at(9, 0, 0),
			Category: domain.LiteralCategory(domain.TagProductive)},
		{Type: domain.ActivityWebsite, Domain: "youtube.com", Duration: 60, StartTime: at(10, 0, 0),
			Category: domain.LiteralCategory(domain.TagDistracting)},
	}
	s := DailySummary("u1", day(), acts, classify.New(nil), 0)

	require.EqualValues(t, 180, s.TotalTime)
	require.EqualValues(t, 120, s.ProductiveTime)
	require.EqualValues(t, 60, s.DistractingTime)
	require.EqualValues(t, 0, s.NeutralTime)
	require.Equal(t, []domain.WebsiteTime{
		{Domain: "github.com", Time: 120, Visits: 1},
		{Domain: "youtube.com", Time: 60, Visits: 1},
	}, s.TopWebsites)
	require.EqualValues(t, 120, s.HourlyBreakdown[9].Time)
	require.EqualValues(t, 60, s.HourlyBreakdown[10].Time)
}

func TestDailySummaryUncategorisedIsNeutral(t *testing.T) {
	acts := []domain.Activity{
		{Type: domain.ActivityApplication, Application: "Terminal", Duration: 42, StartTime: at(8, 0, 0)},
		{Type: domain.ActivityWebsite, Domain: "example.org", Duration: 8, StartTime: at(8, 1, 0),
			Category: domain.CategoryReference("deleted")},
	}
	s := DailySummary("u1", day(), acts, classify.New(nil), 0)

	require.EqualValues(t, 50, s.TotalTime)
	require.EqualValues(t, 50, s.NeutralTime)
	require.Equal(t, s.TotalTime, s.ProductiveTime+s.NeutralTime+s.DistractingTime)
}

func TestDailySummaryResolvesReferences(t *testing.T) {
	c := classify.New([]domain.Category{
		{ID: "dev", Name: "Development", Type: domain.TagProductive},
		{ID: "social", Name: "Social Media", Type: domain.TagDistracting},
	})
	acts := []domain.Activity{
		{Domain: "github.com", Duration: 30, StartTime: at(9, 0, 0), Category: domain.CategoryReference("dev")},
		{Domain: "gitlab.com", Duration: 40, StartTime: at(9, 5, 0), Category: domain.CategoryReference("dev")},
		{Domain: "x.com", Duration: 50, StartTime: at(9, 10, 0), Category: domain.CategoryReference("social")},
	}
	s := DailySummary("u1", day(), acts, c, 0)

	require.EqualValues(t, 70, s.ProductiveTime)
	require.EqualValues(t, 50, s.DistractingTime)
	require.Equal(t, []domain.CategoryTime{
		{Category: "dev", Name: "Development", Type: domain.TagProductive, Time: 70},
		{Category: "social", Name: "Social Media", Type: domain.TagDistracting, Time: 50},
	}, s.Categories)
}

func TestDailySummaryHourUsesStartOnly(t *testing.T) {
	acts := []domain.Activity{
		{Domain: "github.com", Duration: 20, StartTime: at(14, 59, 50)},
	}
	s := DailySummary("u1", day(), acts, classify.New(nil), 0)

	require.EqualValues(t, 20, s.HourlyBreakdown[14].Time)
	require.EqualValues(t, 0, s.HourlyBreakdown[15].Time)
	for h, b := range s.HourlyBreakdown {
		require.Equal(t, h, b.Hour)
	}
}

func TestDailySummaryAnomalies(t *testing.T) {
	acts := []domain.Activity{
		{Domain: "a.com", Duration: -15, StartTime: at(1, 0, 0)},
		{Domain: "b.com", Duration: 10},
	}
	s := DailySummary("u1", day(), acts, classify.New(nil), 0)

	require.EqualValues(t, 10, s.TotalTime)
	var hourly int64
	for _, b := range s.HourlyBreakdown {
		hourly += b.Time
	}
	require.EqualValues(t, 0, hourly)
	require.Len(t, s.TopWebsites, 2)
}

func TestDailySummaryTopTenStable(t *testing.T) {
	var acts []domain.Activity
	for i := 0; i < 15; i++ {
		d := int64(100)
		if i%3 == 0 {
			d = 300
		}
		acts = append(acts, domain.Activity{
			Domain:      fmt.Sprintf("site%02d.com", i),
			Application: fmt.Sprintf("app%02d", i),
			Duration:    d,
			StartTime:   at(12, i, 0),
		})
	}
	s := DailySummary("u1", day(), acts, classify.New(nil), 0)

	require.Len(t, s.TopWebsites, 10)
	require.Len(t, s.TopApplications, 10)
	for i := 1; i < len(s.TopWebsites); i++ {
		require.GreaterOrEqual(t, s.TopWebsites[i-1].Time, s.TopWebsites[i].Time)
	}
	require.Equal(t, "site00.com", s.TopWebsites[0].Domain)
	require.Equal(t, "site03.com", s.TopWebsites[1].Domain)
	require.Equal(t, "site01.com", s.TopWebsites[5].Domain)
	require.Equal(t, "site02.com", s.TopWebsites[6].Domain)
}

func TestDailySummaryVisitsCountRecords(t *testing.T) {
	acts := []domain.Activity{
		{Domain: "github.com", Duration: 10, StartTime: at(9, 0, 0)},
		{Domain: "github.com", Duration: 15, StartTime: at(9, 1, 0)},
	}
	s := DailySummary("u1", day(), acts, classify.New(nil), 0)
	require.Equal(t, []domain.WebsiteTime{{Domain: "github.com", Time: 25, Visits: 2}}, s.TopWebsites)
}

func TestRangeStatistics(t *testing.T) {
	c := classify.New([]domain.Category{{ID: "dev", Name: "Development", Type: domain.TagProductive}})
	acts := []domain.Activity{
		{Type: domain.ActivityWebsite, Domain: "github.com", Duration: 120, StartTime: at(9, 0, 0),
			Category: domain.CategoryReference("dev")},
		{Type: domain.ActivityApplication, Application: "Slack", Duration: 30, StartTime: at(9, 30, 0)},
		{Type: domain.ActivityTask, Duration: 600, StartTime: at(11, 0, 0),
			Category: domain.LiteralCategory(domain.TagProductive)},
	}
	start, end := RangeWindow(day(), day(), utc)
	st := RangeStatistics(start, end, acts, c, utc)

	require.Equal(t, 3, st.TotalActivities)
	require.EqualValues(t, 750, st.TotalTime)
	require.EqualValues(t, 720, st.ProductiveTime)
	require.EqualValues(t, 30, st.NeutralTime)
	require.Equal(t, domain.CountTime{Count: 1, Time: 600}, st.ByType["task"])
	require.Equal(t, domain.CategoryStat{Count: 1, Time: 120, Type: domain.TagProductive}, st.ByCategory["dev"])
	require.Equal(t, domain.CategoryStat{Count: 1, Time: 600, Type: domain.TagProductive}, st.ByCategory["productive"])
	require.Equal(t, domain.HourStat{Hour: 9, Count: 2, Time: 150}, st.ByHour[9])
	require.Equal(t, []domain.DomainTime{{Domain: "github.com", Time: 120}}, st.TopDomains)
	require.Equal(t, []domain.AppTime{{Name: "Slack", Time: 30}}, st.TopApps)
	require.Equal(t, at(0, 0, 0).AddDate(0, 0, 1), st.EndDate)
}

func TestRangeStatisticsDeterministic(t *testing.T) {
	var acts []domain.Activity
	for i := 0; i < 40; i++ {
		acts = append(acts, domain.Activity{
			Type:      domain.ActivityWebsite,
			Domain:    fmt.Sprintf("d%d.com", i%7),
			Duration:  int64(i % 5 * 10),
			StartTime: at(i%24, 0, 0),
			Category:  domain.LiteralCategory(domain.TagNeutral),
		})
	}
	c := classify.New(nil)
	a, err := json.Marshal(RangeStatistics(day(), day(), acts, c, utc))
	require.NoError(t, err)
	b, err := json.Marshal(RangeStatistics(day(), day(), acts, c, utc))
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func TestDayWindowUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	start, end := DayWindow(time.Date(2026, 3, 10, 23, 30, 0, 0, utc), loc)
	require.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, loc), start)
	require.Equal(t, 24*time.Hour, end.Sub(start))
}
