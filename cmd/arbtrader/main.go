package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"arbtrader/internal/api"
	"arbtrader/internal/chain"
	"arbtrader/internal/config"
	"arbtrader/internal/dex"
	"arbtrader/internal/model"
	"arbtrader/internal/registry"
	"arbtrader/internal/simulator"
	"arbtrader/internal/storage"
	"arbtrader/internal/storage/postgres"
	"arbtrader/internal/trader"
)

func main() {
	root := &cobra.Command{
		Use:          "arbtrader",
		Short:        "Cross-venue DEX arbitrage trader",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the API, pair discovery, and arbitrage monitors",
		RunE:  runTrader,
	}
	addCommonFlags(runCmd)
	runCmd.Flags().String("listen", ":8080", "HTTP listen address")
	runCmd.Flags().String("ws", "", "BSC websocket URL (head subscriptions)")
	runCmd.Flags().Int64("min-spread-bps", 0, "minimum absolute spread to trade, in bps")
	runCmd.Flags().Int64("trade-fraction-bps", 200, "quote balance fraction per buy leg, in bps")
	runCmd.Flags().Int64("slippage-bps", 50, "slippage tolerance, in bps")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "polling monitor interval")
	runCmd.Flags().StringSlice("trader-keys", nil, "funding account private keys (comma-separated)")
	root.AddCommand(runCmd)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Import configured pools as trading pairs",
		RunE:  runSeed,
	}
	addCommonFlags(seedCmd)
	seedCmd.Flags().StringSlice("seed-pools", nil, "pools to import as EXCHANGE:pool:quote (comma-separated)")
	root.AddCommand(seedCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate random swap traffic against imported pools",
		RunE:  runSimulate,
	}
	addCommonFlags(simulateCmd)
	simulateCmd.Flags().String("simulator-key", "", "simulator wallet private key")
	simulateCmd.Flags().Duration("simulator-interval", 5*time.Second, "delay between simulated swaps")
	root.AddCommand(simulateCmd)

	exportCmd := &cobra.Command{
		Use:   "export-metrics",
		Short: "Dump trader metrics to a JSONL file",
		RunE:  runExport,
	}
	exportCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	exportCmd.Flags().String("metrics-out", "./data/trader_metrics.jsonl", "output JSONL path")
	exportCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(exportCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "BSC RPC URL")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("uniswap-router", config.DefaultUniswapRouter, "Uniswap V3 SwapRouter02 address")
	cmd.Flags().String("uniswap-quoter", config.DefaultUniswapQuoter, "Uniswap V3 QuoterV2 address")
	cmd.Flags().String("pancake-router", config.DefaultPancakeRouter, "Pancake V3 router address")
	cmd.Flags().String("pancake-quoter", config.DefaultPancakeQuoter, "Pancake V3 QuoterV2 address")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

type env struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *chain.Client
	store    *postgres.Store
	adapters map[model.Exchange]*dex.Adapter
	registry *registry.Registry
}

// setup wires the shared collaborators every networked command needs.
func setup(ctx context.Context, cmd *cobra.Command, needWS bool) (*env, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}

	wsURL := ""
	if needWS {
		wsURL = cfg.WSURL
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL, wsURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	client.SetRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff)

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		client.Close()
		store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	adapters := map[model.Exchange]*dex.Adapter{
		model.ExchangeUniswapV3: dex.NewAdapter(model.ExchangeUniswapV3, dex.VenueConfig{
			Router: common.HexToAddress(cfg.Uniswap.Router),
			Quoter: common.HexToAddress(cfg.Uniswap.Quoter),
		}, client, logger),
		model.ExchangePancakeV3: dex.NewAdapter(model.ExchangePancakeV3, dex.VenueConfig{
			Router: common.HexToAddress(cfg.Pancake.Router),
			Quoter: common.HexToAddress(cfg.Pancake.Quoter),
		}, client, logger),
	}

	venues := map[model.Exchange]registry.Venue{}
	for exchange, adapter := range adapters {
		venues[exchange] = adapter
	}
	reg := registry.New(store, registry.NewChainTokenSource(client, logger), venues, logger)

	return &env{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		store:    store,
		adapters: adapters,
		registry: reg,
	}, nil
}

func (e *env) close() {
	e.client.Close()
	e.store.Close()
	_ = e.logger.Sync()
}

func runTrader(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	factory := func(mode model.TraderMode) trader.MonitorFactory {
		return func(index int, _, _ string) (trader.Runner, error) {
			if index >= len(e.cfg.TraderKeys) {
				return nil, fmt.Errorf("no funding account for monitor %d: %d keys configured", index, len(e.cfg.TraderKeys))
			}
			sender, err := chain.NewSender(e.client, e.cfg.TraderKeys[index])
			if err != nil {
				return nil, fmt.Errorf("funding account %d: %w", index, err)
			}
			return trader.NewMonitor(
				e.adapters[model.ExchangeUniswapV3],
				e.adapters[model.ExchangePancakeV3],
				e.client,
				trader.NewCallerBalances(e.client),
				sender,
				e.store,
				trader.Config{
					MinSpreadBps:     e.cfg.MinSpreadBps,
					TradeFractionBps: e.cfg.TradeFractionBps,
					SlippageBps:      e.cfg.SlippageBps,
					Mode:             mode,
					PollInterval:     e.cfg.PollInterval,
				},
				e.logger,
			), nil
		}
	}

	subscription := trader.NewDiscovery(e.store, factory(model.TraderModeSubscription), e.logger)
	polling := trader.NewDiscovery(e.store, factory(model.TraderModePolling), e.logger)

	server := api.NewServer(e.registry, subscription.StartAll, polling.StartAll, e.logger)
	httpServer := &http.Server{
		Addr:    e.cfg.ListenAddr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("http listen", zap.String("addr", e.cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	if len(e.cfg.SeedPools) == 0 {
		return fmt.Errorf("seed-pools list is required")
	}

	for _, entry := range e.cfg.SeedPools {
		exchange, pool, quote, err := parseSeedPool(entry)
		if err != nil {
			return err
		}
		pair, err := e.registry.ImportTradingPair(ctx, exchange, pool, quote)
		if err != nil {
			return fmt.Errorf("seed %q: %w", entry, err)
		}
		e.logger.Info("seeded pair",
			zap.String("exchange", string(pair.Exchange)),
			zap.String("pool", pair.PoolAddress),
			zap.String("base", pair.BaseTokenAddress),
			zap.String("quote", pair.QuoteTokenAddress))
	}
	return nil
}

// parseSeedPool splits an EXCHANGE:pool:quote entry.
func parseSeedPool(entry string) (model.Exchange, common.Address, common.Address, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", common.Address{}, common.Address{}, fmt.Errorf("seed entry %q: want EXCHANGE:pool:quote", entry)
	}
	exchange, err := model.ParseExchange(parts[0])
	if err != nil {
		return "", common.Address{}, common.Address{}, fmt.Errorf("seed entry %q: %w", entry, err)
	}
	if !common.IsHexAddress(parts[1]) || !common.IsHexAddress(parts[2]) {
		return "", common.Address{}, common.Address{}, fmt.Errorf("seed entry %q: invalid address", entry)
	}
	return exchange, common.HexToAddress(parts[1]), common.HexToAddress(parts[2]), nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.SimulatorKey == "" {
		return fmt.Errorf("simulator-key is required")
	}
	sender, err := chain.NewSender(e.client, e.cfg.SimulatorKey)
	if err != nil {
		return fmt.Errorf("simulator wallet: %w", err)
	}

	venues := map[model.Exchange]simulator.Venue{}
	for exchange, adapter := range e.adapters {
		venues[exchange] = adapter
	}

	sim := simulator.New(e.store, venues, e.client, sender, e.cfg.SimulatorInterval, e.logger)
	e.logger.Info("simulator start",
		zap.String("wallet", sender.Address().Hex()),
		zap.Duration("interval", e.cfg.SimulatorInterval))

	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PostgresDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	metrics, err := store.ListTraderMetrics(ctx)
	if err != nil {
		return fmt.Errorf("list metrics: %w", err)
	}

	exporter := storage.NewJsonlExporter(cfg.MetricsOut)
	if err := exporter.WriteMetrics(metrics); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	logger.Info("metrics exported",
		zap.Int("count", len(metrics)),
		zap.String("out", cfg.MetricsOut))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
