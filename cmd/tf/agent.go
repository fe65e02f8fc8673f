package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/classify"
	"taskflow/internal/config"
	"taskflow/internal/engine/auth"
	"taskflow/internal/logger"
	"taskflow/internal/tracker"
	taskflowsdk "taskflow/sdk/go"
)

// credentials opens the file-backed token store and applies --token.
func credentials() (*tracker.FileCredentials, error) {
	path := viper.GetString("token-file")
	if path == "" {
		path = filepath.Join(viper.GetString("workspace"), ".taskflow", "agent-token")
	}
	creds := &tracker.FileCredentials{Path: path}
	if tok := viper.GetString("token"); tok != "" {
		if err := creds.SetToken(tok); err != nil {
			return nil, err
		}
	}
	return creds, nil
}

func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), nil)
}

func newSyncer(cfg *config.Config, creds tracker.CredentialStore, source string) *tracker.Syncer {
	s := tracker.NewSyncer(tracker.APITransport{BaseURL: viper.GetString("api-url"), Timeout: 10 * time.Second}, creds, source)
	if cfg.Tracking.MinDuration > 0 {
		s.MinDuration = cfg.Tracking.MinDuration
	}
	return s
}

func agentCmd() *cobra.Command {
	var bridgeAddr string
	var noBridge bool
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Track the foreground application and browser tabs",
		Long: `Runs the desktop tracker. The foreground window is polled with agent.window_command,
OS idle time is read with agent.idle_command, and a loopback bridge lets the browser
extension report tab focus, interactions and the login token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := credentials()
			if err != nil {
				return err
			}
			syncer := newSyncer(cfg, creds, "desktop")

			timeout := cfg.Tracking.IdleTimeout
			idle := tracker.NewIdleDetector(timeout, auth.DefaultPolicy(cfg.Tracking.PrivilegedRoles), time.Now())
			var windows tracker.WindowSource
			if len(cfg.Agent.WindowCommand) > 0 {
				windows = tracker.CommandWindowSource{TitleCommand: cfg.Agent.WindowCommand}
			}
			var idleInput tracker.IdleSource
			if len(cfg.Agent.IdleCommand) > 0 {
				idleInput = tracker.CommandIdleSource{Command: cfg.Agent.IdleCommand}
			}
			agent := tracker.NewAgent(syncer, idle, windows, idleInput, nil)
			if cfg.Tracking.PollInterval > 0 {
				agent.PollInterval = cfg.Tracking.PollInterval
			}
			if cfg.Tracking.HeartbeatInterval > 0 {
				agent.HeartbeatInterval = cfg.Tracking.HeartbeatInterval
			}
			agent.Classifier = fetchClassifier(ctx, creds.Token())

			if !noBridge {
				if bridgeAddr == "" {
					bridgeAddr = cfg.Agent.BridgeAddr
				}
				srv := tracker.NewBridgeServer(bridgeAddr, agent)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("bridge: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info("bridge listening on %s", srv.Addr)
			}
			if creds.Token() == "" {
				fmt.Println("No credential yet: sign in through the extension or pass --token. Activity is kept in memory until then.")
			}
			fmt.Printf("Tracking (idle after %s, heartbeat every %s). Ctrl-C to stop.\n", idle.Timeout(), agent.HeartbeatInterval)
			return agent.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&bridgeAddr, "bridge-addr", "", "bridge listen address (default agent.bridge_addr)")
	cmd.Flags().BoolVar(&noBridge, "no-bridge", false, "do not start the extension bridge")
	return cmd
}

// fetchClassifier loads categories once for the live status view. The backend
// stays authoritative, so failures only disable local classification.
func fetchClassifier(ctx context.Context, token string) *classify.Classifier {
	if token == "" {
		return nil
	}
	c := taskflowsdk.New(viper.GetString("api-url"))
	c.BearerToken = token
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cats, err := c.Categories(ctx)
	if err != nil {
		logger.Warn("load categories: %v", err)
		return nil
	}
	return classify.New(tracker.CategoriesFromWire(cats))
}

func timerCmd() *cobra.Command {
	var info tracker.TaskInfo
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Time work on one task until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if info.TaskID == "" {
				return fmt.Errorf("--task required")
			}
			if info.Title == "" {
				info.Title = info.TaskID
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := credentials()
			if err != nil {
				return err
			}
			if creds.Token() == "" {
				return fmt.Errorf("no credential: pass --token or run tf token mint")
			}
			syncer := newSyncer(cfg, creds, "timer")
			timer := tracker.NewTaskTimer(syncer, nil)
			if cfg.Tracking.HeartbeatInterval > 0 {
				timer.Heartbeat = cfg.Tracking.HeartbeatInterval
			}
			var idleInput tracker.IdleSource
			if len(cfg.Agent.IdleCommand) > 0 {
				idleInput = tracker.CommandIdleSource{Command: cfg.Agent.IdleCommand}
			}
			timer.WatchIdle(tracker.NewIdleDetector(cfg.Tracking.IdleTimeout, auth.DefaultPolicy(cfg.Tracking.PrivilegedRoles), time.Now()), idleInput)
			timer.Emitter().Observe(func(ev tracker.LifecycleEvent) {
				if ev.Kind == tracker.LifecycleEnd {
					fmt.Printf("Stopped %q after %s\n", ev.Target.Title, formatSeconds(ev.Duration))
				}
			})
			timer.Start(info)
			fmt.Printf("Working on %q. Ctrl-C to stop.\n", info.Title)
			if err := timer.Run(ctx); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return syncer.Wait(waitCtx)
		},
	}
	cmd.Flags().StringVar(&info.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&info.Title, "title", "", "task title")
	cmd.Flags().StringVar(&info.BoardID, "board", "", "board id")
	cmd.Flags().StringVar(&info.BoardName, "board-name", "", "board name")
	cmd.Flags().StringVar(&info.ListID, "list", "", "list id")
	return cmd
}
