// Command marketcored runs a single market's accounting core behind a
// minimal HTTP admin/metrics endpoint. Grounded on
// services/lending/main.go and cmd/gateway/main.go's flag-parsing,
// logging.Setup, and signal.NotifyContext-driven graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"marketcore/config"
	"marketcore/market"
	"marketcore/market/store"
	"marketcore/observability/logging"
)

func main() {
	var cfgPath, listenAddr string
	flag.StringVar(&cfgPath, "config", "marketcored.toml", "path to the market configuration file")
	flag.StringVar(&listenAddr, "listen", ":7201", "HTTP listen address for the admin/metrics endpoint")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKETCORED_ENV"))
	slogger := logging.Setup("marketcored", env)
	logger := log.New(os.Stdout, "marketcored ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(cfg.PoolID) == "" || cfg.PoolID == "default" {
		cfg.PoolID = uuid.NewString()
		slogger.Info("generated pool id", "pool", cfg.PoolID)
	}

	poolID, params, err := cfg.Params()
	if err != nil {
		logger.Fatalf("parse market parameters: %v", err)
	}

	dataDir := cfg.DataDir
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "./marketcore-data"
	}
	kv, err := store.NewLevelKV(dataDir)
	if err != nil {
		logger.Fatalf("open store at %s: %v", dataDir, err)
	}
	ledgerStore := store.New(kv)
	defer ledgerStore.Close()

	now := uint64(time.Now().Unix())
	existing, err := ledgerStore.GetState(poolID)
	if err != nil {
		logger.Fatalf("load existing state: %v", err)
	}
	if existing == nil {
		state := market.NewState(poolID, params, now)
		if err := ledgerStore.PutState(state); err != nil {
			logger.Fatalf("persist genesis state: %v", err)
		}
		slogger.Info("initialised new market", "pool", poolID)
	}

	var marketAddress market.Address
	marketAddress[len(marketAddress)-1] = 1
	assets := newMemoryAssets(marketAddress)
	auth := newDemoAuthorizer(params.Borrower, params.Controller)

	ledger := market.NewLedger(poolID, marketAddress, ledgerStore, assets, auth, nil, params)
	ledger.SetLogger(slogger)

	srv := newServer(poolID, ledger, slogger)
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	go func() {
		slogger.Info("listening", "addr", listener.Addr().String(), "pool", poolID)
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("serve: %v", serveErr)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("graceful shutdown failed", "error", err)
	}
}
