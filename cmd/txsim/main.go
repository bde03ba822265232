// Command txsim serves the transaction simulator over HTTP.
//
// @title       go-txsim API
// @version     1.0
// @description Transaction simulator: validates, persists and executes token and governance transactions.
// @BasePath    /api/v1
package main

//go:generate swag init --dir ../.. --generalInfo cmd/txsim/main.go --output ../../docs --outputTypes go --parseInternal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-txsim/docs"
	"github.com/tbourn/go-txsim/internal/config"
	httpapi "github.com/tbourn/go-txsim/internal/http"
	"github.com/tbourn/go-txsim/internal/observability"
	"github.com/tbourn/go-txsim/internal/repo"
	"github.com/tbourn/go-txsim/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = ""

type options struct {
	envFile     string
	migrateOnly bool
	purgeEvery  time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("txsim", pflag.ContinueOnError)
	fs.StringVar(&o.envFile, "env-file", "", "load environment variables from this dotenv file first")
	fs.BoolVar(&o.migrateOnly, "migrate-only", sysutil.IsTruthy(os.Getenv("MIGRATE_ONLY")), "apply schema migrations and exit")
	fs.DurationVar(&o.purgeEvery, "purge-interval", 10*time.Minute, "how often expired idempotency keys are deleted (0 disables)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

// loadEnvFile applies a dotenv file without overriding variables that are
// already set. A missing default .env is not an error.
func loadEnvFile(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("txsim exited")
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := loadEnvFile(opts.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ver := sysutil.FirstNonEmpty(version, os.Getenv("TXSIM_VERSION"), "dev")
	sysutil.SetupLogger(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: ver,
	})

	db, err := repo.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("schema migrated")
	if opts.migrateOnly {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()
	if err := observability.InstrumentDB(db, cfg.OTEL); err != nil {
		return fmt.Errorf("instrument db: %w", err)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, httpapi.Options{})

	if opts.purgeEvery > 0 {
		go purgeIdempotency(ctx, db, opts.purgeEvery)
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// purgeIdempotency deletes expired Idempotency-Key rows until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
