package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carebook/carebook/internal/config"
	"github.com/carebook/carebook/internal/domain/scheduling"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/lock"
	"github.com/carebook/carebook/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carebook-server",
		Short: "Appointment scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(providerCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSecret),
	}
}

// lockBackend is what the service and the readiness probe both need from a
// lock implementation.
type lockBackend interface {
	lock.Locker
	db.Pinger
}

// newLocker uses Redis when REDIS_URL is set so several server instances
// share one lock namespace. Without it locks are process local.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lockBackend, func(), error) {
	opts := lock.Options{TTL: cfg.LockTTL, Wait: cfg.LockWait}
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, using in-process locks")
		return lock.NewMemoryLocker(opts), func() {}, nil
	}

	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to redis")
	return lock.NewRedisLocker(client, opts, logger), func() { _ = client.Close() }, nil
}

func newService(pool *pgxpool.Pool, locker lock.Locker, logger zerolog.Logger) *scheduling.Service {
	repos := scheduling.Repositories{
		Providers:    scheduling.NewProviderRepoPG(pool),
		Clients:      scheduling.NewClientRepoPG(pool),
		Availability: scheduling.NewAvailabilityRepoPG(pool),
		Slots:        scheduling.NewSlotRepoPG(pool),
		Bookings:     scheduling.NewBookingRepoPG(pool),
	}
	return scheduling.NewService(repos, db.NewTxRunner(pool), locker, scheduling.SystemClock, logger)
}

// newEcho assembles the HTTP surface. ready backs /health/ready.
func newEcho(cfg *config.Config, logger zerolog.Logger, h *scheduling.Handler, ready echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserIDHeader, auth.DevUserRoleHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	// Runs after auth so authenticated callers get their own bucket.
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rl))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if ready != nil {
		e.GET("/health/ready", ready)
	}

	apiV1 := e.Group("/api/v1")
	h.RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Env)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeLocker()

	svc := newService(pool, locker, logger)
	ready := db.ReadyHandler(pool, map[string]db.Pinger{"lock": locker})
	e := newEcho(cfg, logger, scheduling.NewHandler(svc), ready)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	run := func(action func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				migrator, err := db.NewMigrator(pool)
				if err != nil {
					return err
				}
				defer migrator.Close()
				return action(ctx, migrator)
			})
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: run(func(ctx context.Context, m *db.Migrator) error {
			version, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Database at version %d.\n", version)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: run(func(ctx context.Context, m *db.Migrator) error {
			version, err := m.Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Printf("Database at version %d.\n", version)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: run(func(ctx context.Context, m *db.Migrator) error {
			return m.Status(ctx)
		}),
	})

	return cmd
}

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage providers",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := providerFromFlags(cmd)
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svc := newService(pool, lock.NewMemoryLocker(lock.Options{}), zerolog.Nop())
				if err := svc.RegisterProvider(ctx, p); err != nil {
					return err
				}
				fmt.Printf("Provider created: %s (%s, %s)\n", p.ID, p.Name, p.ScheduleType)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Provider display name")
	createCmd.Flags().String("email", "", "Provider email address")
	createCmd.Flags().String("specialization", "", "Specialization shown to clients")
	createCmd.Flags().String("schedule-type", string(scheduling.ScheduleStream), "stream or wave")
	createCmd.Flags().Int("slot-duration", scheduling.DefaultSlotDuration, "Default slot length in minutes")
	createCmd.Flags().Int("patients-per-slot", scheduling.DefaultPatientsPerSlot, "Default wave capacity")

	cmd.AddCommand(createCmd)
	return cmd
}

func providerFromFlags(cmd *cobra.Command) (*scheduling.Provider, error) {
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	if name == "" || email == "" {
		return nil, fmt.Errorf("--name and --email are required")
	}
	spec, _ := cmd.Flags().GetString("specialization")
	st, _ := cmd.Flags().GetString("schedule-type")
	duration, _ := cmd.Flags().GetInt("slot-duration")
	perSlot, _ := cmd.Flags().GetInt("patients-per-slot")

	t := scheduling.ScheduleType(st)
	if !t.Valid() {
		return nil, fmt.Errorf("--schedule-type must be %q or %q", scheduling.ScheduleStream, scheduling.ScheduleWave)
	}
	return &scheduling.Provider{
		Name:            name,
		Email:           email,
		Specialization:  spec,
		ScheduleType:    t,
		SlotDuration:    duration,
		PatientsPerSlot: perSlot,
	}, nil
}

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			if name == "" || email == "" {
				return fmt.Errorf("--name and --email are required")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				svc := newService(pool, lock.NewMemoryLocker(lock.Options{}), zerolog.Nop())
				c := &scheduling.Client{Name: name, Email: email}
				if err := svc.RegisterClient(ctx, c); err != nil {
					return err
				}
				fmt.Printf("Client created: %s (%s)\n", c.ID, c.Name)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Client display name")
	createCmd.Flags().String("email", "", "Client email address")

	cmd.AddCommand(createCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for a provider or client",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := issueToken(cfg, sub, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "Provider or client ID")
	cmd.Flags().String("role", "", "provider or client")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func issueToken(cfg *config.Config, sub, role string, ttl time.Duration) (string, error) {
	id, err := uuid.Parse(sub)
	if err != nil {
		return "", fmt.Errorf("--sub must be a UUID: %w", err)
	}
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("JWT_SECRET is required to issue tokens")
	}
	return auth.IssueToken(jwtConfig(cfg), id, role, ttl)
}
