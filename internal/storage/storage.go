package storage

import (
	"context"

	"arbtrader/internal/model"
)

// Store is the persistence surface the trading core consumes. Tokens and
// trading pairs are point lookups; trader metrics are append-only.
type Store interface {
	FindToken(ctx context.Context, address string) (*model.Token, error)
	CreateToken(ctx context.Context, token model.Token) (*model.Token, error)
	FindTradingPair(ctx context.Context, base, quote string, exchange model.Exchange) (*model.TradingPair, error)
	CreateTradingPair(ctx context.Context, pair model.TradingPair) (*model.TradingPair, error)
	ListTradingPairs(ctx context.Context) ([]model.TradingPair, error)
	AppendTraderMetric(ctx context.Context, metric model.TraderMetric) error
	ListTraderMetrics(ctx context.Context) ([]model.TraderMetric, error)
}
