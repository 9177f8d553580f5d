package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetplan/internal/engine"
	"fleetplan/internal/engine/auth"
	"fleetplan/internal/repo"
	"fleetplan/internal/server"
)

// serveConfig is read from the environment; flags given on the command line win.
type serveConfig struct {
	Addr      string `env:"FLEETPLAN_ADDR" envDefault:"127.0.0.1:8080"`
	BasePath  string `env:"FLEETPLAN_BASE_PATH" envDefault:"/v0"`
	JWTSecret string `env:"FLEETPLAN_JWT_SECRET"`
}

func loadServeConfig(cmd *cobra.Command, addr, basePath string) (serveConfig, error) {
	var cfg serveConfig
	if err := env.Parse(&cfg); err != nil {
		return serveConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = addr
	}
	if cmd.Flags().Changed("base-path") {
		cfg.BasePath = basePath
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, addr, basePath)
			if err != nil {
				return err
			}
			logger := newLogger()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cfg.JWTSecret == "" {
					logger.Warn("FLEETPLAN_JWT_SECRET not set, bearer tokens are refused and only API keys authenticate")
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: cfg.BasePath,
					Auth:     server.AuthConfig{JWTSecret: cfg.JWTSecret, Logger: logger},
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				hookCtx, stopHooks := context.WithCancel(ctx)
				defer stopHooks()
				if server.StartWebhooks(hookCtx, e, logger) {
					logger.Info("webhook delivery started", "hooks", len(e.Catalog.Webhooks))
				}

				srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Fleetplan API for fleet %s on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", e.Catalog.Fleet.ID, cfg.Addr, cfg.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (FLEETPLAN_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (FLEETPLAN_BASE_PATH)")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("remote") != "" {
				return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
					page, err := s.remote.EventsPage(ctx, n, "")
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(page.Items)
					}
					tw := eventTable()
					for _, ev := range page.Items {
						if (evtType != "" && ev.Type != evtType) || (entityKind != "" && ev.EntityKind != entityKind) {
							continue
						}
						tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
					}
					tw.Render()
					return nil
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, repo.EventFilter{FleetID: e.Catalog.Fleet.ID, Type: evtType, EntityKind: entityKind})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := eventTable()
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	return cmd
}

func eventTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Kind", "Entity", "Actor"})
	return tw
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}

	var actor, name, role string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, name, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "secret": secret})
				}
				fmt.Printf("Created key %s for %s (%s)\n%s\n", key.ID, key.ActorID, key.Role, secret)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	createCmd.Flags().StringVar(&name, "name", "", "key label")
	createCmd.Flags().StringVar(&role, "role", auth.RolePlanner, "role granted to the key")
	_ = createCmd.MarkFlagRequired("actor")

	var listActor string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Role", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.Role, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&listActor, "actor", "", "only keys of this actor")

	revokeCmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(createCmd, listCmd, revokeCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens for the HTTP server"}

	var actor, secret string
	var roles []string
	var ttl time.Duration
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token with FLEETPLAN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("FLEETPLAN_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("FLEETPLAN_JWT_SECRET (or --secret) is required")
			}
			for _, r := range roles {
				if !auth.ValidRole(r) {
					return fmt.Errorf("unknown role %s", r)
				}
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Subject:   actor,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			}
			token, err := server.SignToken(secret, actor, roles, claims)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token, "expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339)})
			}
			fmt.Println(token)
			return nil
		},
	}
	mintCmd.Flags().StringVar(&actor, "actor", "", "actor the token authenticates as")
	mintCmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleViewer}, "roles carried by the token")
	mintCmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to FLEETPLAN_JWT_SECRET)")
	mintCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = mintCmd.MarkFlagRequired("actor")

	cmd.AddCommand(mintCmd)
	return cmd
}
