package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/chain-custody/internal/adapter/handler"
	"github.com/rl1809/chain-custody/internal/adapter/ledger"
	"github.com/rl1809/chain-custody/internal/adapter/storage"
	"github.com/rl1809/chain-custody/internal/config"
	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/core/service"
	"github.com/rl1809/chain-custody/internal/logging"
	"github.com/rl1809/chain-custody/internal/port"
)

const (
	shutdownTimeout    = 5 * time.Second
	healthPollInterval = 5 * time.Second
	// Locks outlive a confirmation wait so a slow node does not hand the
	// sequence to another process mid-flight.
	lockGrace = 30 * time.Second
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "custody-server",
		Short:         "Chain-of-custody ownership transfer and verification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the submission journal schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.MySQLDSN == "" {
				return errors.New("CUSTODY_MYSQL_DSN is required for migrate")
			}
			db, err := openMySQL(cmd.Context(), cfg.MySQLDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.NewMySQLAdapter(db).EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("journal schema ready")
			return nil
		},
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func dialLedger(ctx context.Context, cfg config.Config, log zerolog.Logger) (port.LedgerClient, func(), error) {
	contract := common.HexToAddress(cfg.Ledger.ContractAddress)
	if cfg.UseMemoryLedger() {
		log.Warn().Msg("using in-memory ledger, state is lost on exit")
		return ledger.NewMemoryLedger(contract), func() {}, nil
	}

	eth, err := ledger.DialEthereum(ctx, ledger.EthereumConfig{
		URL:          cfg.Ledger.URL,
		Contract:     contract,
		ChainID:      cfg.Ledger.ChainID,
		GasLimit:     cfg.Ledger.GasLimit,
		PollInterval: cfg.Ledger.PollInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("url", cfg.Ledger.URL).Str("contract", contract.Hex()).Msg("connected to ledger")
	return eth, eth.Close, nil
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	registrar, err := domain.ParseCredential(cfg.Ledger.RegistrarKey)
	if err != nil {
		return fmt.Errorf("registrar key: %w", err)
	}

	chain, closeLedger, err := dialLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	var (
		locker port.AccountLocker
		claims port.ClaimStore = storage.NewMemoryClaimStore()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 50})
		defer rdb.Close()
		rs := storage.NewRedisAdapter(rdb)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locker, claims = rs, rs
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		log.Warn().Msg("no redis configured, account sequences are serialized in this process only")
	}

	var journal port.SubmissionJournal = storage.NewMemoryJournal()
	if cfg.MySQLDSN != "" {
		db, err := openMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		mysqlJournal := storage.NewMySQLAdapter(db)
		if err := mysqlJournal.EnsureSchema(ctx); err != nil {
			return err
		}
		journal = mysqlJournal
		log.Info().Msg("connected to mysql")
	}

	metrics := handler.NewMetrics()
	opts := service.Options{
		ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout,
		Journal:             journal,
		Observer:            metrics,
		Logger:              log,
	}
	sequencer := service.NewSequencer(chain, locker, cfg.Ledger.ConfirmationTimeout+lockGrace)
	deps := handler.Deps{
		Registration: service.NewRegistrationService(chain, sequencer, claims, registrar, opts),
		Transfers:    service.NewTransferService(chain, sequencer, opts),
		Verification: service.NewVerificationService(chain, log),
		Journal:      journal,
		Ledger:       chain,
		Metrics:      metrics,
		Logger:       log,
	}
	reconciler := service.NewReconciler(chain, journal, cfg.ReconcileWorkers, cfg.ReconcileInterval, log)

	log.Info().Str("registrar", registrar.Address().Hex()).Msg("registrar loaded")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(ctx) })

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.NewHTTPHandler(deps).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			log.Info().Msg("HTTP server stopped")
			return err
		})
	}

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer, hs := handler.NewGRPCServer(deps)
		g.Go(func() error {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			handler.MonitorLedger(ctx, chain, hs, healthPollInterval, log)
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			hs.Shutdown()
			grpcServer.GracefulStop()
			log.Info().Msg("gRPC server stopped")
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}
