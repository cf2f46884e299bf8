package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tokoku/backend/internal/cache"
	"tokoku/backend/internal/config"
	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/httpapi"
	"tokoku/backend/internal/lock"
	"tokoku/backend/internal/logger"
	"tokoku/backend/internal/redisconn"
	"tokoku/backend/internal/service"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/store/memory"
	pgstore "tokoku/backend/internal/store/postgres"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tokoku",
		Short:         "Tokoku back-office API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			return logger.Setup(logger.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})
	root.AddCommand(newMigrateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	var adminUser, adminPassword string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema and create the first admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithComponent("migrate")
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pg, err := pgstore.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("postgres unavailable: %w", err)
			}
			defer pg.Close()

			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Msg("schema applied")

			if adminPassword == "" {
				return nil
			}
			auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Minute, pg)
			if err != nil {
				return fmt.Errorf("invalid security configuration: %w", err)
			}
			_, err = auth.CreateUser(ctx, domain.UserCreateRequest{
				Username: adminUser,
				Password: adminPassword,
				Role:     domain.RoleAdmin,
			})
			if errors.Is(err, store.ErrInvalidTransaction) {
				log.Warn().Err(err).Str("username", adminUser).Msg("admin account not created")
				return nil
			}
			if err != nil {
				return err
			}
			log.Info().Str("username", adminUser).Msg("admin account created")
			return nil
		},
	}

	cmd.Flags().StringVar(&adminUser, "admin-user", "admin", "username of the first admin account")
	cmd.Flags().StringVar(&adminPassword, "admin-password", os.Getenv("SEED_ADMIN_PASSWORD"), "password of the first admin account; skipped when empty")
	return cmd
}

func runServe(parent context.Context) error {
	log := logger.WithComponent("server")
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	opts := service.Options{
		CatalogTTL:  time.Duration(cfg.CatalogTTLSeconds) * time.Second,
		LockTTL:     time.Duration(cfg.LockTTLSeconds) * time.Second,
		PhoneRegion: cfg.PhoneRegion,
	}
	if cfg.RedisAddr != "" {
		client, err := redisconn.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache and local locks")
		} else {
			opts.Catalog = cache.NewRedisCatalogCache(client)
			opts.Locker = lock.NewRedisLocker(client)
			closers = append(closers, client.Close)
			log.Info().Msg("cache: redis, locks: redis")
		}
	} else {
		log.Info().Msg("cache: noop, locks: local")
	}

	svc := service.New(repo, opts)
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err != nil {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("tokoku backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-sig:
	case err := <-serveErr:
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
	return runErr
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < httpapi.MinSecretLength {
		return fmt.Errorf("AUTH_SECRET must be set and at least %d characters", httpapi.MinSecretLength)
	}
	return nil
}
