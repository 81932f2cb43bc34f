package trader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"arbtrader/internal/model"
	"arbtrader/internal/storage"
)

// Runner is the monitor lifecycle Discovery drives.
type Runner interface {
	Bind(ctx context.Context, baseAddress, quoteAddress string) error
	Start(ctx context.Context) error
}

// MonitorFactory builds a monitor for the market, bound to the funding
// account at the given index. Each started market gets its own index, so
// no two monitors ever share an account.
type MonitorFactory func(index int, baseAddress, quoteAddress string) (Runner, error)

// Discovery fans out monitors over every (base, quote) market that has an
// imported pair on both venues.
type Discovery struct {
	store   storage.Store
	factory MonitorFactory
	logger  *zap.Logger
}

func NewDiscovery(store storage.Store, factory MonitorFactory, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{store: store, factory: factory, logger: logger}
}

type marketPairs struct {
	base, quote string
	exchanges   map[model.Exchange]bool
}

// StartAll groups stored pairs by (base, quote) and starts one monitor per
// market present on both exchanges. One market's failure is logged and does
// not stop the rest. Returns the number of monitors started.
func (d *Discovery) StartAll(ctx context.Context) (int, error) {
	pairs, err := d.store.ListTradingPairs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list trading pairs: %w", err)
	}

	markets := map[string]*marketPairs{}
	var order []string
	for _, pair := range pairs {
		key := pair.BaseTokenAddress + ":" + pair.QuoteTokenAddress
		market, ok := markets[key]
		if !ok {
			market = &marketPairs{
				base:      pair.BaseTokenAddress,
				quote:     pair.QuoteTokenAddress,
				exchanges: map[model.Exchange]bool{},
			}
			markets[key] = market
			order = append(order, key)
		}
		market.exchanges[pair.Exchange] = true
	}

	started := 0
	for _, key := range order {
		market := markets[key]
		if !market.exchanges[model.ExchangeUniswapV3] || !market.exchanges[model.ExchangePancakeV3] {
			d.logger.Info("market present on one venue only, skipping",
				zap.String("base", market.base),
				zap.String("quote", market.quote))
			continue
		}

		monitor, err := d.factory(started, market.base, market.quote)
		if err != nil {
			d.logger.Error("monitor setup failed",
				zap.String("base", market.base),
				zap.String("quote", market.quote),
				zap.Error(err))
			continue
		}
		if err := monitor.Bind(ctx, market.base, market.quote); err != nil {
			d.logger.Error("monitor bind failed",
				zap.String("base", market.base),
				zap.String("quote", market.quote),
				zap.Error(err))
			continue
		}
		if err := monitor.Start(ctx); err != nil {
			d.logger.Error("monitor start failed",
				zap.String("base", market.base),
				zap.String("quote", market.quote),
				zap.Error(err))
			continue
		}
		started++
	}

	d.logger.Info("discovery complete",
		zap.Int("markets", len(order)),
		zap.Int("started", started))
	return started, nil
}
