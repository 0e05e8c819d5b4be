package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/icrc-ledger-indexer/internal/api"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/archivesync"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/balance"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/config"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/ledgerclient"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/ledgersync"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/locks"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/logging"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/scheduler"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store"
	"github.com/withobsrvr/icrc-ledger-indexer/internal/store/mongostore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	reset := flag.Bool("reset", false, "run the reset path for the first configured token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongo, err := mongostore.Connect(ctx, cfg.MongoDBURL, cfg.Database, log)
	if err != nil {
		log.Error("store connection failed", zap.Error(err))
		os.Exit(1)
	}
	defer mongo.Close(context.Background())

	transport := ledgerclient.NewHTTPTransport(cfg.ICURL)
	reg := locks.NewRegistry()
	metrics := api.NewMetrics()

	units := make([]scheduler.TokenUnit, 0, len(cfg.Tokens))
	tokenStores := make(map[string]store.TokenStore, len(cfg.Tokens))

	for _, t := range cfg.Tokens {
		decimals := uint8(8)
		if t.Decimals != nil {
			decimals = *t.Decimals
		}
		tokenLog := log.With(zap.String("token", t.Symbol))
		client := ledgerclient.New(transport, t.CanisterID, decimals, tokenLog)
		ts := mongo.ForToken(t.Symbol)
		tokenStores[t.Symbol] = ts

		units = append(units, scheduler.TokenUnit{
			Symbol:        t.Symbol,
			Store:         ts,
			ArchiveSyncer: archivesync.New(client, ts, t.Symbol, metrics, tokenLog),
			LedgerSyncer:  ledgersync.New(client, ts, t.Symbol, metrics, tokenLog),
			BalanceEngine: balance.New(ts, reg, t.Symbol, metrics, tokenLog),
		})
	}

	resetSymbol := ""
	if *reset && len(cfg.Tokens) > 0 {
		resetSymbol = cfg.Tokens[0].Symbol
	}

	sched := scheduler.New(mongo, units, log)
	if err := sched.Bootstrap(ctx, resetSymbol); err != nil {
		log.Error("bootstrap failed", zap.Error(err))
		os.Exit(1)
	}
	if *reset {
		log.Info("reset complete, exiting", zap.String("token", resetSymbol))
		return
	}

	if cfg.APIServer.Enabled {
		srv := api.NewServer(mongo, tokenStores, metrics, log)
		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.APIServer.Port),
			Handler: srv.Router(cfg.APIServer),
		}
		go func() {
			log.Info("api server listening", zap.Int("port", cfg.APIServer.Port))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("api server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	sched.RunSteadyState(ctx)
	log.Info("shutting down")
}

const shutdownGrace = 5 * time.Second
