package simulator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbtrader/internal/dex"
	"arbtrader/internal/model"
	"arbtrader/internal/numeric"
	"arbtrader/internal/storage"
)

// Venue is the swap surface the simulator drives.
type Venue interface {
	ID() model.Exchange
	Quote(ctx context.Context, intent dex.QuoteIntent) (dex.Quote, error)
	SwapTransactions(ctx context.Context, initiator common.Address, intent dex.SwapIntent, policy dex.ApprovalPolicy) ([]dex.TxRequest, error)
}

// NonceSource reads the wallet's current transaction count.
type NonceSource interface {
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TxSender signs and submits one unsigned transaction request.
type TxSender interface {
	Address() common.Address
	Send(ctx context.Context, req *dex.TxRequest) error
}

const slippageBps = 50

// Simulator generates random swap traffic against the imported pools so
// monitored markets keep moving. Each tick picks a random pair, a random
// direction, and a random amount between 0.001 and 1.0 token units.
type Simulator struct {
	store    storage.Store
	venues   map[model.Exchange]Venue
	chain    NonceSource
	sender   TxSender
	interval time.Duration
	logger   *zap.Logger
}

func New(store storage.Store, venues map[model.Exchange]Venue, chain NonceSource, sender TxSender, interval time.Duration, logger *zap.Logger) *Simulator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		store:    store,
		venues:   venues,
		chain:    chain,
		sender:   sender,
		interval: interval,
		logger:   logger,
	}
}

// Run loops until the context is cancelled. An empty pair set is transient
// and retried after the tick interval; swap failures are logged and the
// loop keeps going.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("simulated swap failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single random swap.
func (s *Simulator) RunOnce(ctx context.Context) error {
	pairs, err := s.store.ListTradingPairs(ctx)
	if err != nil {
		return fmt.Errorf("list trading pairs: %w", err)
	}
	if len(pairs) == 0 {
		s.logger.Info("no trading pairs yet, waiting")
		return nil
	}

	idx, err := numeric.RandomIntInRange(big.NewInt(0), big.NewInt(int64(len(pairs)-1)))
	if err != nil {
		return fmt.Errorf("pick pair: %w", err)
	}
	pair := pairs[idx.Int64()]
	if pair.BaseToken == nil || pair.QuoteToken == nil {
		return fmt.Errorf("pair %d missing token metadata", pair.ID)
	}

	venue, ok := s.venues[pair.Exchange]
	if !ok {
		return fmt.Errorf("no venue for exchange %s", pair.Exchange)
	}

	direction, err := numeric.RandomIntInRange(big.NewInt(0), big.NewInt(1))
	if err != nil {
		return fmt.Errorf("pick direction: %w", err)
	}
	tokenIn, tokenOut := *pair.BaseToken, *pair.QuoteToken
	if direction.Int64() == 1 {
		tokenIn, tokenOut = tokenOut, tokenIn
	}

	amountIn, err := randomAmount(tokenIn.Decimals)
	if err != nil {
		return fmt.Errorf("pick amount: %w", err)
	}

	pool := common.HexToAddress(pair.PoolAddress)
	in := common.HexToAddress(tokenIn.Address)
	out := common.HexToAddress(tokenOut.Address)

	quote, err := venue.Quote(ctx, dex.QuoteExactIn{
		TokenIn:  in,
		TokenOut: out,
		Pool:     pool,
		AmountIn: amountIn,
	})
	if err != nil {
		return fmt.Errorf("quote on %s: %w", pair.Exchange, err)
	}

	minOut := new(big.Int).Mul(quote.AmountOut, big.NewInt(10000-slippageBps))
	minOut.Div(minOut, big.NewInt(10000))

	txs, err := venue.SwapTransactions(ctx, s.sender.Address(), dex.SwapExactIn{
		TokenIn:      in,
		TokenOut:     out,
		Pool:         pool,
		AmountIn:     amountIn,
		AmountOutMin: minOut,
	}, dex.ApprovePermanent)
	if err != nil {
		return fmt.Errorf("build swap: %w", err)
	}

	nonce, err := s.chain.NonceAt(ctx, s.sender.Address())
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	for i := range txs {
		n := nonce
		txs[i].Nonce = &n
		if err := s.sender.Send(ctx, &txs[i]); err != nil {
			return fmt.Errorf("send tx nonce %d: %w", n, err)
		}
		nonce++
	}

	s.logger.Info("simulated swap",
		zap.String("exchange", string(pair.Exchange)),
		zap.String("tokenIn", tokenIn.Symbol),
		zap.String("tokenOut", tokenOut.Symbol),
		zap.String("amountIn", amountIn.String()),
		zap.Int("txs", len(txs)))
	return nil
}

// randomAmount picks a raw amount between 0.001 and 1.0 units of a token.
// Tokens with fewer than 3 decimals floor at 1 raw unit.
func randomAmount(decimals uint8) (*big.Int, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	min := big.NewInt(1)
	if decimals >= 3 {
		min = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-3), nil)
	}
	return numeric.RandomIntInRange(min, max)
}
