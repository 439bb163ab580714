package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinic/internal/config"
	"github.com/ehr/clinic/internal/domain/inventory"
	"github.com/ehr/clinic/internal/domain/prescription"
	"github.com/ehr/clinic/internal/domain/staff"
	"github.com/ehr/clinic/internal/platform/auth"
	"github.com/ehr/clinic/internal/platform/db"
	"github.com/ehr/clinic/internal/platform/docstore"
	"github.com/ehr/clinic/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic staff, inventory and prescription API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(bootstrapCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the configured store",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations (postgres) or create indexes (mongo)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if cfg.StoreDriver == config.DriverMongo {
				store, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
				if err != nil {
					return err
				}
				defer store.Close(ctx) //nolint:errcheck

				names, err := store.EnsureIndexes(ctx)
				if err != nil {
					return fmt.Errorf("index creation failed: %w", err)
				}
				fmt.Printf("Ensured %d index(es) on database %s.\n", len(names), cfg.MongoDatabase)
				return nil
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration (postgres) or index (mongo) status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if cfg.StoreDriver == config.DriverMongo {
				store, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
				if err != nil {
					return err
				}
				defer store.Close(ctx) //nolint:errcheck
				return printIndexStatus(ctx, store)
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printIndexStatus(ctx context.Context, store *docstore.Store) error {
	fmt.Printf("%-15s %s\n", "COLLECTION", "INDEXES")
	for name := range docstore.Indexes() {
		specs, err := store.Collection(name).Indexes().ListSpecifications(ctx)
		if err != nil {
			return fmt.Errorf("list indexes of %s: %w", name, err)
		}
		var names []string
		for _, s := range specs {
			names = append(names, s.Name)
		}
		fmt.Printf("%-15s %v\n", name, names)
	}
	return nil
}

// bootstrapCmd creates the first management account. Afterwards accounts
// are created through the API by management.
func bootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first management account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			if username == "" {
				username = email
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc := staff.NewService(st.users, auth.NewBcryptHasher(cfg.BcryptCost), nil)
			u, err := svc.Bootstrap(ctx, staff.UserCreate{Username: username, Email: email, Password: password})
			if err != nil {
				return err
			}
			fmt.Printf("Created management account %s (%s).\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Email of the management account")
	cmd.Flags().String("username", "", "Display name (defaults to the email)")
	cmd.Flags().String("password", "", "Initial password")
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// stores holds the repositories of the configured driver.
type stores struct {
	users         staff.Repository
	medicines     inventory.Repository
	prescriptions prescription.Repository
	health        db.Checker
	close         func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		store, err := docstore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &stores{
			users:         staff.NewUserRepoMongo(store),
			medicines:     inventory.NewMedicineRepoMongo(store),
			prescriptions: prescription.NewPrescriptionRepoMongo(store),
			health:        store,
			close:         func() { _ = store.Close(context.Background()) },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return pgStores(pool), nil
	}
}

func pgStores(pool *pgxpool.Pool) *stores {
	return &stores{
		users:         staff.NewUserRepoPG(pool),
		medicines:     inventory.NewMedicineRepoPG(pool),
		prescriptions: prescription.NewPrescriptionRepoPG(pool),
		health:        db.PoolChecker{Pool: pool},
		close:         pool.Close,
	}
}

// resolveTokenSecret returns the token signing secret from TOKEN_SECRET,
// hex-decoded when it is valid hex and used as-is otherwise. An empty value
// yields a random 32-byte secret in development; the second return value
// reports that case.
func resolveTokenSecret(value string, dev bool) ([]byte, bool, error) {
	if value != "" {
		if decoded, err := hex.DecodeString(value); err == nil && len(decoded) > 0 {
			return decoded, false, nil
		}
		return []byte(value), false, nil
	}
	if !dev {
		return nil, false, fmt.Errorf("TOKEN_SECRET is required outside development")
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random token secret: %w", err)
	}
	return key, true, nil
}

// newServer builds the echo instance with every route mounted.
func newServer(cfg *config.Config, logger zerolog.Logger, st *stores, tokens *auth.TokenService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Audit(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeout) * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/store", db.HealthHandler(st.health))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	pipe := auth.NewPipeline(tokens)
	root := e.Group("")

	staffSvc := staff.NewService(st.users, auth.NewBcryptHasher(cfg.BcryptCost), tokens)
	staff.NewHandler(staffSvc, logger).RegisterRoutes(root, pipe, middleware.RateLimit(rateLimitCfg))

	invSvc := inventory.NewService(st.medicines)
	inventory.NewHandler(invSvc, logger).RegisterRoutes(root, pipe)

	rxSvc := prescription.NewService(st.prescriptions, st.medicines, logger, cfg.RestockOnDelete)
	prescription.NewHandler(rxSvc, logger).RegisterRoutes(root, pipe)

	return e
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	secret, generated, err := resolveTokenSecret(cfg.TokenSecret, cfg.IsDev())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve token secret")
	}
	if generated {
		logger.Warn().Msg("using a random token secret; tokens will not survive a restart")
	}
	tokens, err := auth.NewTokenService(secret, time.Duration(cfg.TokenTTLMinutes)*time.Minute)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build token service")
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to connect to store")
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	if cfg.RestockOnDelete {
		logger.Info().Msg("prescription deletion restores stock")
	}

	e := newServer(cfg, logger, st, tokens)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
