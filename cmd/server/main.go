// Command sync-server runs the self-hosted sync credential and session server.
package main

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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/sync-keeper/internal/config"
	"github.com/and161185/sync-keeper/internal/crypto"
	"github.com/and161185/sync-keeper/internal/limiter"
	"github.com/and161185/sync-keeper/internal/repository"
	"github.com/and161185/sync-keeper/internal/repository/postgres"
	"github.com/and161185/sync-keeper/internal/repository/sqlite"
	"github.com/and161185/sync-keeper/internal/server/httpapi"
	"github.com/and161185/sync-keeper/internal/service"
	"github.com/and161185/sync-keeper/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var errNotRunning = errors.New("server is not running")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts config.Options

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmd(cmd, opts)
		},
	}
	config.RegisterFlags(serve)

	isRunning := &cobra.Command{
		Use:           "is-running",
		Short:         "Exit 0 when a server answers on the configured address",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, opts)
			if err != nil {
				return err
			}
			if !config.IsRunning(cmd.Context(), cfg) {
				cmd.Println("not running")
				return errNotRunning
			}
			cmd.Println("running")
			return nil
		},
	}
	config.RegisterFlags(isRunning)

	root := &cobra.Command{
		Use:     "sync-server",
		Short:   "Self-hosted sync credential and session server",
		Version: fmt.Sprintf("%s (%s)", version, buildDate),
		RunE:    serve.RunE,
	}
	config.RegisterFlags(root)
	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default searches syncserver.yaml)")
	root.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", ".env file (default ./.env if present)")
	root.AddCommand(serve, isRunning)
	return root
}

func serveCmd(cmd *cobra.Command, opts config.Options) error {
	cfg, err := config.Load(cmd, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr()),
		zap.String("base", cfg.Base),
		zap.String("db", cfg.DB.Driver),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openStore opens the configured credential backend.
func openStore(ctx context.Context, cfg config.Config) (repository.AccountRepository, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.NewAccountRepo(db), func() { _ = db.Close() }, nil
	default:
		db, err := sqlite.Open(ctx, cfg.AuthDBPath())
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.AuthDBPath(), err)
		}
		return sqlite.NewAccountRepo(db), func() { _ = db.Close() }, nil
	}
}

// run serves until ctx is done. ready, when set, receives the bound address.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger, ready chan<- net.Addr) error {
	if err := os.MkdirAll(cfg.Base, 0o755); err != nil {
		return fmt.Errorf("create base folder: %w", err)
	}

	accounts, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher, err := crypto.NewHasher(cfg.PasswordScheme)
	if err != nil {
		return err
	}
	reg, err := session.NewRegistry(session.Options{
		BaseFolder: cfg.Base,
		Tokens:     session.TokenMode(cfg.TokenMode),
		Locking:    session.LockMode(cfg.LockMode),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("close sessions", zap.Error(err))
		}
	}()

	var coreOpts []service.CoreOption
	if cfg.LoginMaxFailures > 0 {
		coreOpts = append(coreOpts, service.WithLimiter(
			limiter.NewMemory(cfg.LoginWindow, cfg.LoginMaxFailures, cfg.LoginBlock)))
	}
	core := service.NewCore(service.NewCredentialStore(accounts, hasher), reg, logger, coreOpts...)
	api, err := httpapi.New(core, logger, httpapi.Config{
		MaxPayloadMegs:    cfg.MaxPayloadMegs,
		CORSOrigins:       cfg.CORSOrigins,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	if err != nil {
		return err
	}
	defer api.Close()

	lis, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if ready != nil {
		ready <- lis.Addr()
	}

	srv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
