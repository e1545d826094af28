package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"eth2ValidatorNode/app"
	"eth2ValidatorNode/config"
	"eth2ValidatorNode/contracts"
	"eth2ValidatorNode/db"
	"eth2ValidatorNode/eth1"
	"eth2ValidatorNode/ethdo"
	"eth2ValidatorNode/validators"
	"eth2ValidatorNode/wallet"
)

func main() {
	configPath := flag.String("config", "", "Path to the yaml config file")
	debugPtr := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()
	if *debugPtr {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	logger := slog.Default()
	if err := run(logger, *configPath); err != nil {
		logger.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	depositContract, err := contracts.NewDepositContract(cfg.DepositContractAddress())
	if err != nil {
		return err
	}

	client, err := ethclient.DialContext(ctx, cfg.Eth1.RpcUrl)
	if err != nil {
		return errors.Join(errors.New("failed to connect to the execution client"), err)
	}
	defer client.Close()

	indexer := eth1.NewService(
		client,
		depositContract,
		store,
		logger,
		eth1.WithCreationBlock(cfg.Eth1.DepositContractCreationBlock),
		eth1.WithBlockRange(cfg.Eth1.BlockRange),
		eth1.WithPollInterval(cfg.Eth1.PollInterval),
		eth1.WithBackoff(cfg.Eth1.Backoff, cfg.Eth1.MaxBackoff),
	)
	if err := indexer.Start(ctx); err != nil {
		return err
	}
	defer indexer.Stop()

	tool := ethdo.NewClient(logger, cfg.Ethdo.Binary, cfg.Ethdo.BaseDir, cfg.Ethdo.Timeout)
	wallets := wallet.NewManager(tool, depositContract, logger)
	source := validators.NewStoreSource(store)
	reconciler := validators.NewReconciler(wallets, source, source, indexer, logger)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           app.NewApp(logger, wallets, reconciler).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server running", slog.String("address", cfg.Server.ListenAddress))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
