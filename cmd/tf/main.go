package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/engine"
	"taskflow/internal/engine/auth"
	"taskflow/internal/logger"
	"taskflow/internal/migrate"
	"taskflow/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "tf",
	Short: "Taskflow productivity tracker",
	Long: `Taskflow records how time is spent across websites, applications and tasks.
- Activities: one record per focus session, kept up to date by heartbeats from the agent or the browser extension.
- Categories: named buckets of domains and applications, each productive, neutral or distracting.
- Summaries: per-day rollups (totals, top sites and apps, hourly breakdown) cached in the store.
- Agent: the desktop process that watches the foreground window and idle time and syncs to the API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("TASKFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "local-user", "user the command acts for")
	rootCmd.PersistentFlags().String("log-dir", "", "write logs to dated files in this directory")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	rootCmd.PersistentFlags().String("api-url", "http://127.0.0.1:8080/api", "Taskflow API base URL for agent, timer and remote commands")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the API (stored for later runs)")
	rootCmd.PersistentFlags().String("token-file", "", "credential file (default <workspace>/.taskflow/agent-token)")
	for _, name := range []string{"workspace", "json", "user", "log-dir", "debug", "api-url", "token", "token-file"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(timerCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(rangeCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(remoteCmd())
}

func setupLogging() error {
	if dir := viper.GetString("log-dir"); dir != "" {
		return logger.Init(dir, viper.GetBool("debug"))
	}
	logger.SetOutput(os.Stderr, viper.GetBool("debug"))
	return nil
}

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if !status {
				if err := migrate.Migrate(conn); err != nil {
					return err
				}
			}
			st, err := migrate.Inspect(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			size, err := db.Size(workspace)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%d KiB): schema version %d of %d\n", db.Path(workspace), size/1024, st.Current, st.Latest)
			for _, name := range st.Pending {
				fmt.Printf("  pending %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only report pending migrations")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage taskflow.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskflow.yml with a fresh signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate taskflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true, "categories": len(cfg.Categories), "summary_policy": cfg.Policy()})
			}
			fmt.Printf("Config valid: %d categories, summary policy %s\n", len(cfg.Categories), cfg.Policy())
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var cursor int64
	var evtType string
	var allUsers bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				user := viper.GetString("user")
				if allUsers {
					user = ""
				}
				items, err := e.Repo.LatestEvents(ctx, n, cursor, user, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Time", "Type", "User", "Entity")
				for _, ev := range items {
					tw.AppendRow(row(ev.ID, ev.TS, ev.Type, ev.UserID, strings.TrimSuffix(ev.EntityKind+"/"+ev.EntityID, "/")))
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "before", 0, "only events with a smaller id")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().BoolVar(&allUsers, "all", false, "include every user")
	return cmd
}

// --- helpers ---

func openRuntime(ctx context.Context, opts app.Options) (*app.Runtime, error) {
	return app.Open(ctx, viper.GetString("workspace"), opts)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := openRuntime(ctx, app.Options{Seed: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
}

// operator is the actor local CLI commands run as. Whoever can open the
// workspace database holds every privileged role.
func operator(e engine.Engine) auth.Actor {
	roles := e.Config.Tracking.PrivilegedRoles
	if len(roles) == 0 {
		roles = []string{"admin"}
	}
	return auth.Actor{ID: viper.GetString("user"), Roles: roles}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "today":
		return time.Now().In(loc), nil
	case "yesterday":
		return time.Now().In(loc).AddDate(0, 0, -1), nil
	}
	t, err := time.ParseInLocation(repo.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func formatSeconds(s int64) string {
	return (time.Duration(s) * time.Second).String()
}
