package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"arbitra/api"
	"arbitra/auth"
	"arbitra/config"
	"arbitra/db"
	"arbitra/dispute"
	"arbitra/journal"
	"arbitra/logging"
	"arbitra/namespace"
	"arbitra/pool"
	"arbitra/restoration"
	"arbitra/reward"
	"arbitra/subject"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and relay the outbox",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides http.addr)")
	serveCmd.Flags().Bool("migrate", false, "apply migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		cfg.Database.MigrateOnStart = true
	}
	if errs := cfg.ValidateServe(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.Configure(logging.ProfileRuntime, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return err
	}
	defer conn.Close()

	if cfg.Database.MigrateOnStart {
		applied, err := db.Migrate(ctx, conn)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Strs("applied", applied).Msg("migrations applied")
	}

	server := api.NewServer(buildServices(conn, cfg, logger), logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.Outbox.Enabled {
		relay := journal.NewRelay(conn, journal.LogPublisher{Logger: logger.With().Str("component", "publisher").Logger()}, journal.RelayOptions{
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
		}).WithLogger(logger.With().Str("component", "relay").Logger())
		g.Go(func() error { return relay.Run(gctx) })
	}
	return g.Wait()
}

// pgConn is what the services need from the connection pool.
type pgConn interface {
	db.TxBeginner
	db.Querier
}

func buildServices(conn pgConn, cfg *config.Config, logger zerolog.Logger) api.Services {
	sink := journal.NewWriter()

	disputes := dispute.NewService(conn, conn, dispute.Repos{}, sink).WithLogger(logger)
	return api.Services{
		Namespaces:   namespace.NewService(conn, conn, nil, sink).WithLogger(logger),
		Subjects:     subject.NewService(conn, conn, subject.Repos{}, sink).WithLogger(logger),
		Pools:        pool.NewService(conn, conn, nil, sink).WithLogger(logger),
		Disputes:     disputes,
		Restorations: restoration.NewService(disputes).WithLogger(logger),
		Rewards:      reward.NewService(conn, conn, reward.Repos{}, sink).WithLogger(logger),
		Auth:         auth.NewService(conn, conn, auth.NewRepository(), sink, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).WithLogger(logger),
	}
}
