package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	taskflowsdk "taskflow/sdk/go"
)

func summaryCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the daily summary for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				day, err := parseDate(date, e.Config.Location())
				if err != nil {
					return err
				}
				s, err := e.DailySummary(ctx, viper.GetString("user"), day)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				printSummary(s)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "day (YYYY-MM-DD, today, yesterday)")
	return cmd
}

func printSummary(s domain.DailySummary) {
	fmt.Printf("%s  total %s  productive %s  neutral %s  distracting %s\n",
		s.Date.Format("2006-01-02"), formatSeconds(s.TotalTime), formatSeconds(s.ProductiveTime),
		formatSeconds(s.NeutralTime), formatSeconds(s.DistractingTime))

	if len(s.TopWebsites) > 0 {
		tw := newTable("Website", "Time", "Visits")
		for _, w := range s.TopWebsites {
			tw.AppendRow(row(w.Domain, formatSeconds(w.Time), w.Visits))
		}
		fmt.Println(tw.Render())
	}
	if len(s.TopApplications) > 0 {
		tw := newTable("Application", "Time")
		for _, a := range s.TopApplications {
			tw.AppendRow(row(a.Name, formatSeconds(a.Time)))
		}
		fmt.Println(tw.Render())
	}
	if len(s.Categories) > 0 {
		tw := newTable("Category", "Type", "Time")
		for _, c := range s.Categories {
			name := c.Name
			if name == "" {
				name = c.Category
			}
			tw.AppendRow(row(name, c.Type, formatSeconds(c.Time)))
		}
		fmt.Println(tw.Render())
	}
	tw := newTable("Hour", "Time")
	for _, h := range s.HourlyBreakdown {
		if h.Time > 0 {
			tw.AppendRow(row(fmt.Sprintf("%02d:00", h.Hour), formatSeconds(h.Time)))
		}
	}
	fmt.Println(tw.Render())
}

func rangeCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Show statistics over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				loc := e.Config.Location()
				start, err := parseDate(from, loc)
				if err != nil {
					return err
				}
				end, err := parseDate(to, loc)
				if err != nil {
					return err
				}
				st, err := e.RangeStatistics(ctx, viper.GetString("user"), start, end)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("%d activities, total %s (productive %s, neutral %s, distracting %s)\n",
					st.TotalActivities, formatSeconds(st.TotalTime), formatSeconds(st.ProductiveTime),
					formatSeconds(st.NeutralTime), formatSeconds(st.DistractingTime))
				tw := newTable("Type", "Count", "Time")
				for _, k := range sortedKeys(st.ByType) {
					tw.AppendRow(row(k, st.ByType[k].Count, formatSeconds(st.ByType[k].Time)))
				}
				fmt.Println(tw.Render())
				tw = newTable("Category", "Type", "Count", "Time")
				for _, k := range sortedKeys(st.ByCategory) {
					c := st.ByCategory[k]
					tw.AppendRow(row(k, c.Type, c.Count, formatSeconds(c.Time)))
				}
				fmt.Println(tw.Render())
				tw = newTable("Domain", "Time")
				for _, d := range st.TopDomains {
					tw.AppendRow(row(d.Domain, formatSeconds(d.Time)))
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "today", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func activityCmd() *cobra.Command {
	a := &cobra.Command{Use: "activity", Short: "Inspect recorded activities"}
	a.AddCommand(activityListCmd())
	return a
}

func activityListCmd() *cobra.Command {
	var from, to, typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				loc := e.Config.Location()
				var start, end time.Time
				var err error
				if from != "" {
					if start, err = parseDate(from, loc); err != nil {
						return err
					}
				}
				if to != "" {
					if end, err = parseDate(to, loc); err != nil {
						return err
					}
				}
				actor := operator(e)
				items, err := e.ListActivities(ctx, actor, start, end, domain.ActivityType(typ))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Start", "Type", "Target", "Category", "Duration", "Active")
				for _, a := range items {
					tw.AppendRow(row(a.StartTime.In(loc).Format("01-02 15:04"), a.Type, activityTarget(a),
						a.Category.String(), formatSeconds(a.Duration), a.IsActive))
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&typ, "type", "", "website, application, tab or task")
	return cmd
}

func activityTarget(a domain.Activity) string {
	switch {
	case a.Domain != "":
		return a.Domain
	case a.Application != "":
		return a.Application
	case a.Title != "":
		return a.Title
	}
	return a.TaskID
}

func remoteCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "remote",
		Short: "Query a running Taskflow API with the stored credential",
	}
	r.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user, roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(me)
			}
			fmt.Printf("%s (%s) via %s\nroles: %s\npermissions: %s\n", me.UserID, me.Name, me.Source,
				strings.Join(me.Roles, ", "), strings.Join(me.Permissions, ", "))
			return nil
		},
	})

	var date string
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Fetch a daily summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			s, err := c.Summary(cmd.Context(), date)
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
	summary.Flags().StringVar(&date, "date", "", "day (YYYY-MM-DD, default today on the server)")
	r.AddCommand(summary)

	var from, to string
	rng := &cobra.Command{
		Use:   "range",
		Short: "Fetch range statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			st, err := c.Range(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
	rng.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	rng.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	_ = rng.MarkFlagRequired("from")
	_ = rng.MarkFlagRequired("to")
	r.AddCommand(rng)

	var typ string
	list := &cobra.Command{
		Use:   "activities",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remoteClient()
			if err != nil {
				return err
			}
			items, err := c.ListActivities(cmd.Context(), from, to, typ)
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	list.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	list.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	list.Flags().StringVar(&typ, "type", "", "activity type")
	r.AddCommand(list)
	return r
}

func remoteClient() (*taskflowsdk.Client, error) {
	creds, err := credentials()
	if err != nil {
		return nil, err
	}
	c := taskflowsdk.New(viper.GetString("api-url"))
	c.BearerToken = creds.Token()
	if c.BearerToken == "" {
		return nil, fmt.Errorf("no credential: pass --token or run tf token mint")
	}
	return c, nil
}
