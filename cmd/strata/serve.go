package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strata-api/strata/internal/config"
	"github.com/strata-api/strata/internal/engine"
	"github.com/strata-api/strata/internal/engine/hooks"
	"github.com/strata-api/strata/internal/engine/schema"
	"github.com/strata-api/strata/internal/engine/storage"
	"github.com/strata-api/strata/internal/web/auth"
	"github.com/strata-api/strata/internal/web/cache"
	"github.com/strata-api/strata/internal/web/router"
	"github.com/strata-api/strata/internal/web/server"
)

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the resource server",
	Long:  "Start the JSON:API resource server with the registered resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		log, err := zap.NewProduction()
		if err != nil {
			return err
		}
		defer log.Sync()

		dbURL := cfg.DatabaseURL()
		if dbURL == "" {
			return fmt.Errorf("no database URL configured (set DATABASE_URL or database.url)")
		}
		db, err := sql.Open("pgx", dbURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		defer db.Close()

		reg := schema.NewRegistry(schema.Options{
			DefaultPageSize: cfg.Engine.DefaultPageSize,
			MaxPageSize:     cfg.Engine.MaxPageSize,
			MaxIncludeDepth: cfg.Engine.MaxIncludeDepth,
		})
		if err := registerResources(reg); err != nil {
			return err
		}

		store := storage.New(db, reg, log, storage.Capabilities{WindowFunctions: true})
		eng := engine.New(store, nil, hooks.NewRegistry(), log)

		opts := []router.Option{router.WithLogger(log)}
		if cfg.Redis.Addr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			opts = append(opts, router.WithCache(cache.NewRedisCache(client, cache.Config{
				DefaultTTL: cfg.Redis.TTL,
				Prefix:     "strata:",
			})))
			defer client.Close()
		}

		var middlewares []func(http.Handler) http.Handler
		if cfg.Auth.Secret != "" {
			svc := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
			middlewares = append(middlewares, auth.Middleware(svc, log))
		}

		handler := router.New(eng, opts...).Handler(middlewares...)
		if cfg.Server.APIPrefix != "" {
			mux := http.NewServeMux()
			mux.Handle(cfg.Server.APIPrefix+"/", http.StripPrefix(cfg.Server.APIPrefix, handler))
			handler = mux
		}

		serverCfg := server.DefaultConfig()
		serverCfg.Address = cfg.Server.Address()
		serverCfg.Handler = handler
		srv := server.New(serverCfg, log)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error("shutdown failed", zap.Error(err))
			}
		}()

		color.Green("Strata listening on %s", serverCfg.Address)
		return srv.Start()
	},
}
