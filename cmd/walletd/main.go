// Package main provides the walletd daemon: a wallet-bus framework host
// that wires the prepare orchestrator, wallet/transaction state machines,
// the UDP transaction connection manager, and their collaborator modules
// onto a single in-process bus, then exposes it over JSON-RPC/WebSocket.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/curdata-project/walletframework/internal/bus"
	"github.com/curdata-project/walletframework/internal/config"
	"github.com/curdata-project/walletframework/internal/currencies"
	"github.com/curdata-project/walletframework/internal/prepare"
	"github.com/curdata-project/walletframework/internal/rpcadapter"
	"github.com/curdata-project/walletframework/internal/secretstore"
	"github.com/curdata-project/walletframework/internal/states"
	"github.com/curdata-project/walletframework/internal/transaction"
	"github.com/curdata-project/walletframework/internal/txconn"
	"github.com/curdata-project/walletframework/internal/userstore"
	"github.com/curdata-project/walletframework/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.walletd", "Data directory")
		rpcAddr     = flag.String("rpc", "", "JSON-RPC/WebSocket listen address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		println("walletd", version, "(commit:", commit+")")
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		logging.GetDefault().Fatal("failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *rpcAddr != "" {
		cfg.RPC.ListenAddr = *rpcAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		Prefix:     "walletd",
	})
	logging.SetDefault(log)

	if err := os.MkdirAll(filepath.Dir(cfg.SecretsDBPath()), 0700); err != nil {
		log.Fatal("failed to create data dir", "error", err)
	}

	b := bus.New()

	wmID := b.CreateMachine(states.NewWalletMachine())

	secretMod, err := secretstore.New(cfg.SecretsDBPath())
	if err != nil {
		log.Fatal("failed to open secrets store", "error", err)
	}
	userMod, err := userstore.New(cfg.UsersDBPath())
	if err != nil {
		log.Fatal("failed to open user store", "error", err)
	}
	currenciesMod := currencies.New()
	transactionMod := transaction.New()
	txConnMod := txconn.New()
	prepareMod := prepare.New(wmID)

	priorities := map[string]int32{}
	for _, p := range cfg.Modules {
		priorities[p.Module] = p.Priority
	}

	modules := []struct {
		name string
		mod  bus.Module
	}{
		{secretstore.Name, secretMod},
		{userstore.Name, userMod},
		{currencies.Name, currenciesMod},
		{transaction.Name, transactionMod},
		{txconn.Name, txConnMod},
	}
	for _, m := range modules {
		priority, ok := priorities[m.name]
		if !ok {
			log.Fatal("no configured priority for module", "module", m.name)
		}
		if err := b.RegisterModule(priority, m.mod); err != nil {
			log.Fatal("failed to register module", "module", m.name, "error", err)
		}
	}
	// The prepare orchestrator is itself registered (priority 0, last in
	// registration order) so that Start(), which notifies every registered
	// actor in registration order, triggers its staged initialization. It
	// appears in the start list it walks but skips its own entry.
	if err := b.RegisterModule(0, prepareMod); err != nil {
		log.Fatal("failed to register prepare orchestrator", "error", err)
	}

	// Start every module before accepting RPC traffic: a client call that
	// lands before HandleStart has wired a module's busAddr would otherwise
	// panic the actor's mailbox goroutine (it has no recover).
	b.Start()

	rpcServer := rpcadapter.New(b)
	if err := rpcServer.Listen(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("failed to start RPC listener", "error", err)
	}
	log.Info("walletd started", "rpc_addr", cfg.RPC.ListenAddr, "data_dir", cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	if err := rpcServer.Close(); err != nil {
		log.Warn("rpc server close", "error", err)
	}
	transactionMod.Close()
	txConnMod.Close()
	if err := secretMod.Close(); err != nil {
		log.Warn("secrets store close", "error", err)
	}
	if err := userMod.Close(); err != nil {
		log.Warn("user store close", "error", err)
	}
	b.Close()
}
