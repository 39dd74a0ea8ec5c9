// cmd/payments/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"paymentservice/internal/clients"
	"paymentservice/internal/common/logger"
	"paymentservice/internal/config"
	"paymentservice/internal/payments"
	"paymentservice/internal/telemetry"
	"paymentservice/pkg/eventstore"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "payments",
		Short:         "Member payment aggregate service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.AddCommand(serveCmd(), replayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is everything both subcommands need.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	service payments.Service
	close   func()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.WithLevel(level), logger.WithService("payments"))
	slog.SetDefault(log)

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	svc, err := payments.NewService(store,
		clients.NewPricingClient(cfg.Pricing.URL, cfg.Pricing.Timeout),
		payments.WithLogger(log),
		payments.WithSnapshotEvery(cfg.Aggregate.SnapshotEvery),
		payments.WithMaxRetries(cfg.Aggregate.MaxRetries),
	)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{cfg: cfg, log: log, service: svc, close: closeStore}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (eventstore.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		es := eventstore.NewEventStore(db)
		if err := es.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return es, func() { db.Close() }, nil
	case "sqlite":
		es, err := eventstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return es, func() { es.Close() }, nil
	case "memory":
		return eventstore.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			shutdownTracing, err := telemetry.Setup(ctx, "payments", a.cfg.Telemetry.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			limiter := rate.NewLimiter(rate.Limit(a.cfg.HTTP.RateLimit), a.cfg.HTTP.RateBurst)
			handler := payments.NewHandler(a.service, limiter, a.log)

			server := &http.Server{
				Addr:              ":" + a.cfg.Port,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info("starting payments service", "port", a.cfg.Port, "store", a.cfg.Store.Driver)
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func replayCmd() *cobra.Command {
	var memberID string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild one member from its full event history and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			member, err := a.service.ReplayMember(cmd.Context(), memberID)
			if err != nil {
				return fmt.Errorf("replay member %s: %w", memberID, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(member)
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "member id to replay")
	cmd.MarkFlagRequired("member")
	return cmd
}
