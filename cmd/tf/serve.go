package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/logger"
	"taskflow/internal/scheduler"
	"taskflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Serves the REST API, the realtime WebSocket feed and Prometheus metrics, and runs the nightly summary refresh and retention jobs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, app.Options{Realtime: true, Seed: true})
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg := rt.Config

			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("a JWT secret is required: set server.jwt_secret or TASKFLOW_JWT_SECRET")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}

			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:     secret,
					AllowDevLogin: devLogin || cfg.Server.AllowDevLogin,
					Logger:        logger.Std("warn"),
				},
				Hub:            rt.Hub,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			})
			if err != nil {
				return err
			}

			if !noScheduler {
				sched := scheduler.New(rt.Engine, cfg)
				if err := sched.Start(); err != nil {
					return err
				}
				defer sched.Stop()
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown: %v", err)
				}
			}()
			logger.Info("serving on %s%s (policy %s, tz %s)", addr, basePath, cfg.Policy(), cfg.Location())
			fmt.Printf("Serving Taskflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().String("jwt-secret", "", "HS256 signing secret (default server.jwt_secret)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST {base}/auth/dev/login")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the nightly jobs")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func refreshCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Recompute and store daily summaries for every user active on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), app.Options{Seed: true})
			if err != nil {
				return err
			}
			defer rt.Close()
			day, err := parseDate(date, rt.Config.Location())
			if err != nil {
				return err
			}
			n, err := rt.Engine.RefreshDailySummaries(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Printf("Refreshed %d summaries for %s\n", n, day.Format("2006-01-02"))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "yesterday", "day to refresh (YYYY-MM-DD, today, yesterday)")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Apply storage.retention_days now",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.Engine.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("Removed %d activities and %d summaries\n", res.Activities, res.Summaries)
			return nil
		},
	}
}
