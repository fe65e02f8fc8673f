package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/repo"
	"taskflow/internal/server"
)

func categoryCmd() *cobra.Command {
	c := &cobra.Command{Use: "category", Short: "Manage categories"}
	c.AddCommand(categoryListCmd())
	c.AddCommand(categoryAddCmd())
	c.AddCommand(categoryDeleteCmd())
	c.AddCommand(categorySeedCmd())
	return c
}

func categoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("#", "ID", "Name", "Type", "Domains", "Applications")
				for _, c := range items {
					tw.AppendRow(row(c.Position, c.ID, c.Name, c.Type, strings.Join(c.Domains, ", "), strings.Join(c.Applications, ", ")))
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func categoryAddCmd() *cobra.Command {
	var in engine.CategoryInput
	var position int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a category",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("position") {
				in.Position = &position
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCategory(ctx, operator(e), in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Created category %s (%s) at position %d\n", c.Name, c.ID, c.Position)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "category name")
	cmd.Flags().StringVar(&in.Type, "type", "neutral", "productive, neutral or distracting")
	cmd.Flags().StringVar(&in.Color, "color", "", "display color")
	cmd.Flags().StringSliceVar(&in.Domains, "domain", nil, "domain to match (repeatable)")
	cmd.Flags().StringSliceVar(&in.Applications, "app", nil, "application name to match (repeatable)")
	cmd.Flags().IntVar(&position, "position", 0, "match order (default last)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func categoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteCategory(ctx, operator(e), args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted category %s\n", args[0])
				return nil
			})
		},
	}
}

func categorySeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the configured categories into an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer rt.Close()
			n, err := rt.Engine.SeedCategories(cmd.Context(), rt.Config.Categories)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Println("Categories already present; nothing seeded")
				return nil
			}
			fmt.Printf("Seeded %d categories\n", n)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{Use: "token", Short: "Issue API credentials"}
	t.AddCommand(tokenMintCmd())
	return t
}

func tokenMintCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	var store bool
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token for --user with the workspace secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			user := viper.GetString("user")
			tok, err := server.MintToken(secret, user, roles, ttl)
			if err != nil {
				return err
			}
			if store {
				creds, err := credentials()
				if err != nil {
					return err
				}
				if err := creds.SetToken(tok); err != nil {
					return err
				}
				fmt.Printf("Stored token for %s in %s\n", user, creds.Path)
				return nil
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime (0 for no expiry)")
	cmd.Flags().BoolVar(&store, "store", false, "save into the agent credential file instead of printing")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRevokeCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --user (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				user := viper.GetString("user")
				if _, err := e.EnsureUser(ctx, domain.User{ID: user, Name: user}); err != nil {
					return err
				}
				plain, key, err := e.CreateAPIKey(ctx, user, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plain, "id": key.ID, "user_id": key.UserID, "name": key.Name})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.UserID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created", "Last used")
				for _, k := range keys {
					last := k.LastUsedAt
					if last == "" {
						last = "never"
					}
					tw.AppendRow(row(k.ID, k.Name, k.CreatedAt, last))
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users and roles"}
	u.AddCommand(userGrantCmd())
	u.AddCommand(userRevokeCmd())
	u.AddCommand(userShowCmd())
	return u
}

func userGrantCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "grant <role>...",
		Short: "Create --user if needed and grant roles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id := viper.GetString("user")
				if name == "" {
					name = id
				}
				u, err := e.EnsureUser(ctx, domain.User{ID: id, Name: name, Roles: args})
				if err != nil {
					return err
				}
				fmt.Printf("%s roles: %s\n", u.ID, strings.Join(u.Roles, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func userRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <role>...",
		Short: "Remove roles from --user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				id := viper.GetString("user")
				for _, role := range args {
					if err := r.RevokeRole(ctx, tx, id, role); err != nil {
						return err
					}
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("Revoked %s from %s\n", strings.Join(args, ", "), id)
				return nil
			})
		},
	}
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show --user with roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUser(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				perms := e.Auth.Policy.Permissions(u.Roles)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": u, "permissions": perms})
				}
				fmt.Printf("%s (%s)\nroles: %s\npermissions: %s\n", u.ID, u.Name, strings.Join(u.Roles, ", "), strings.Join(perms, ", "))
				return nil
			})
		},
	}
}

// --- output helpers ---

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(header))
	return tw
}

func row(cells ...any) table.Row {
	return table.Row(cells)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
