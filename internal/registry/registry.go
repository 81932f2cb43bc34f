package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbtrader/internal/dex"
	"arbtrader/internal/model"
	"arbtrader/internal/storage"
)

// Venue exposes the pool reads the registry needs to import a pair.
type Venue interface {
	PoolFee(ctx context.Context, pool common.Address) (uint32, error)
	PoolState(ctx context.Context, pool common.Address) (model.PoolState, error)
}

// TokenSource resolves on-chain metadata for an ERC20 token.
type TokenSource interface {
	TokenMetadata(ctx context.Context, token common.Address) (model.Token, error)
}

// ChainTokenSource reads ERC20 metadata over RPC.
type ChainTokenSource struct {
	caller dex.Caller
	logger *zap.Logger
}

func NewChainTokenSource(caller dex.Caller, logger *zap.Logger) *ChainTokenSource {
	return &ChainTokenSource{caller: caller, logger: logger}
}

func (s *ChainTokenSource) TokenMetadata(ctx context.Context, token common.Address) (model.Token, error) {
	return dex.NewERC20(s.caller, token).Metadata(ctx, s.logger)
}

// Registry lazily materializes tokens and trading pairs in the store from
// chain state. Lookups are get-or-create: a token or pair is imported at most
// once and reused afterwards.
type Registry struct {
	store  storage.Store
	tokens TokenSource
	venues map[model.Exchange]Venue
	logger *zap.Logger
}

func New(store storage.Store, tokens TokenSource, venues map[model.Exchange]Venue, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		tokens: tokens,
		venues: venues,
		logger: logger,
	}
}

// EnsureToken returns the stored token for the address, importing its
// on-chain metadata on first sight.
func (r *Registry) EnsureToken(ctx context.Context, address common.Address) (*model.Token, error) {
	checksummed := address.Hex()

	existing, err := r.store.FindToken(ctx, checksummed)
	if err != nil {
		return nil, fmt.Errorf("find token %s: %w", checksummed, err)
	}
	if existing != nil {
		return existing, nil
	}

	token, err := r.tokens.TokenMetadata(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("read token metadata %s: %w", checksummed, err)
	}
	token.Address = checksummed

	created, err := r.store.CreateToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("create token %s: %w", checksummed, err)
	}
	r.logger.Info("imported token",
		zap.String("address", created.Address),
		zap.String("symbol", created.Symbol),
		zap.Uint8("decimals", created.Decimals))
	return created, nil
}

// ImportTradingPair inspects a pool on the given venue, infers the base token
// as the pool token that is not the quote, and returns the stored pair,
// creating tokens and the pair as needed.
func (r *Registry) ImportTradingPair(ctx context.Context, exchange model.Exchange, pool, quote common.Address) (*model.TradingPair, error) {
	venue, ok := r.venues[exchange]
	if !ok {
		return nil, fmt.Errorf("no venue registered for exchange %s", exchange)
	}

	state, err := venue.PoolState(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("pool state %s on %s: %w", pool.Hex(), exchange, err)
	}

	token0 := common.HexToAddress(state.Token0)
	token1 := common.HexToAddress(state.Token1)

	var base common.Address
	switch quote {
	case token1:
		base = token0
	case token0:
		base = token1
	default:
		return nil, fmt.Errorf("pool %s does not contain quote token %s", pool.Hex(), quote.Hex())
	}

	baseToken, err := r.EnsureToken(ctx, base)
	if err != nil {
		return nil, err
	}
	quoteToken, err := r.EnsureToken(ctx, quote)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.FindTradingPair(ctx, baseToken.Address, quoteToken.Address, exchange)
	if err != nil {
		return nil, fmt.Errorf("find trading pair: %w", err)
	}
	if existing != nil {
		existing.BaseToken = baseToken
		existing.QuoteToken = quoteToken
		return existing, nil
	}

	fee, err := venue.PoolFee(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("pool fee %s on %s: %w", pool.Hex(), exchange, err)
	}

	created, err := r.store.CreateTradingPair(ctx, model.TradingPair{
		Exchange:          exchange,
		PoolAddress:       pool.Hex(),
		PoolFee:           fee,
		BaseTokenAddress:  baseToken.Address,
		QuoteTokenAddress: quoteToken.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("create trading pair: %w", err)
	}
	created.BaseToken = baseToken
	created.QuoteToken = quoteToken

	r.logger.Info("imported trading pair",
		zap.String("exchange", string(exchange)),
		zap.String("pool", created.PoolAddress),
		zap.Uint32("fee", created.PoolFee),
		zap.String("base", baseToken.Symbol),
		zap.String("quote", quoteToken.Symbol))
	return created, nil
}
