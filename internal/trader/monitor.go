package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arbtrader/internal/dex"
	"arbtrader/internal/model"
	"arbtrader/internal/numeric"
	"arbtrader/internal/storage"
)

const bpsDenominator = 10000

// ErrNotBound is returned when Start is called before Bind succeeded.
var ErrNotBound = errors.New("monitor not bound to a trading pair")

// VenueAdapter is the per-exchange surface the monitor consumes. Satisfied
// by *dex.Adapter.
type VenueAdapter interface {
	ID() model.Exchange
	PoolState(ctx context.Context, pool common.Address) (model.PoolState, error)
	Quote(ctx context.Context, intent dex.QuoteIntent) (dex.Quote, error)
	SwapTransactions(ctx context.Context, initiator common.Address, intent dex.SwapIntent, policy dex.ApprovalPolicy) ([]dex.TxRequest, error)
}

// ChainReader is the head/nonce surface the monitor consumes. Satisfied by
// *chain.Client.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// BalanceReader reads ERC20 balances for the funding account.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// TxSender signs and submits one unsigned transaction request.
type TxSender interface {
	Address() common.Address
	Send(ctx context.Context, req *dex.TxRequest) error
}

// CallerBalances implements BalanceReader over a contract-call backend.
type CallerBalances struct {
	caller dex.Caller
}

func NewCallerBalances(caller dex.Caller) *CallerBalances {
	return &CallerBalances{caller: caller}
}

func (b *CallerBalances) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return dex.NewERC20(b.caller, token).BalanceOf(ctx, account)
}

// Config holds the monitor's trading parameters, all in basis points.
type Config struct {
	MinSpreadBps     int64
	TradeFractionBps int64
	SlippageBps      int64
	Mode             model.TraderMode
	PollInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.TradeFractionBps <= 0 {
		c.TradeFractionBps = 200
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = 50
	}
	if c.Mode == "" {
		c.Mode = model.TraderModeSubscription
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Monitor watches one (base, quote) market across both venues and executes
// two-leg arbitrage trades from a single funding account.
type Monitor struct {
	uniswap  VenueAdapter
	pancake  VenueAdapter
	chain    ChainReader
	balances BalanceReader
	sender   TxSender
	store    storage.Store
	cfg      Config
	logger   *zap.Logger

	base     model.Token
	quote    model.Token
	uniPair  model.TradingPair
	panPair  model.TradingPair
	bound    bool
	inFlight atomic.Bool
	txCount  atomic.Uint64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(uniswap, pancake VenueAdapter, chain ChainReader, balances BalanceReader, sender TxSender, store storage.Store, cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		uniswap:  uniswap,
		pancake:  pancake,
		chain:    chain,
		balances: balances,
		sender:   sender,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Bind resolves the stored trading pairs and token metadata for the market.
// Both venues must already have an imported pair; anything missing is fatal.
func (m *Monitor) Bind(ctx context.Context, baseAddress, quoteAddress string) error {
	base := common.HexToAddress(baseAddress).Hex()
	quote := common.HexToAddress(quoteAddress).Hex()

	uniPair, err := m.store.FindTradingPair(ctx, base, quote, model.ExchangeUniswapV3)
	if err != nil {
		return fmt.Errorf("find uniswap pair: %w", err)
	}
	if uniPair == nil {
		return fmt.Errorf("no %s pair for %s/%s", model.ExchangeUniswapV3, base, quote)
	}
	panPair, err := m.store.FindTradingPair(ctx, base, quote, model.ExchangePancakeV3)
	if err != nil {
		return fmt.Errorf("find pancake pair: %w", err)
	}
	if panPair == nil {
		return fmt.Errorf("no %s pair for %s/%s", model.ExchangePancakeV3, base, quote)
	}

	baseToken, err := m.store.FindToken(ctx, base)
	if err != nil {
		return fmt.Errorf("find base token: %w", err)
	}
	quoteToken, err := m.store.FindToken(ctx, quote)
	if err != nil {
		return fmt.Errorf("find quote token: %w", err)
	}
	if baseToken == nil || quoteToken == nil {
		return fmt.Errorf("token metadata missing for %s/%s", base, quote)
	}

	m.base = *baseToken
	m.quote = *quoteToken
	m.uniPair = *uniPair
	m.panPair = *panPair
	m.bound = true

	m.logger.Info("monitor bound",
		zap.String("base", m.base.Symbol),
		zap.String("quote", m.quote.Symbol),
		zap.String("uniswapPool", m.uniPair.PoolAddress),
		zap.String("pancakePool", m.panPair.PoolAddress),
		zap.String("account", m.sender.Address().Hex()))
	return nil
}

// Start runs an immediate evaluation and then watches for new work according
// to the configured mode. Calling Start on a running monitor is a no-op.
//
// Evaluations run on the caller's ctx, not on the watch context Stop
// cancels, so Stop never interrupts a cycle that is already trading.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.bound {
		return ErrNotBound
	}
	if m.started {
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)

	var sub ethereum.Subscription
	heads := make(chan *types.Header, 16)
	if m.cfg.Mode == model.TraderModeSubscription {
		var err error
		sub, err = m.chain.SubscribeNewHeads(watchCtx, heads)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe new heads: %w", err)
		}
	}

	m.started = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.Evaluate(ctx)

	go func() {
		defer close(m.done)
		if sub != nil {
			defer sub.Unsubscribe()
			for {
				select {
				case <-watchCtx.Done():
					return
				case err := <-sub.Err():
					if err != nil {
						m.logger.Error("head subscription failed", zap.Error(err))
					}
					return
				case head := <-heads:
					m.logger.Debug("new head", zap.Uint64("block", head.Number.Uint64()))
					go m.Evaluate(ctx)
				}
			}
		}

		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				go m.Evaluate(ctx)
			}
		}
	}()
	return nil
}

// Stop detaches the block listener and waits for the watch loop to exit.
// An in-flight evaluation keeps running to its natural completion; trade
// legs are never rolled back.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.started = false
	m.mu.Unlock()

	cancel()
	<-done
}

// Evaluate runs one detection pass. At most one evaluation runs at a time;
// a pass arriving while another is in flight is dropped, never queued.
func (m *Monitor) Evaluate(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.logger.Debug("evaluation in flight, dropping trigger",
			zap.String("base", m.base.Symbol),
			zap.String("quote", m.quote.Symbol))
		return
	}
	defer m.inFlight.Store(false)

	opp, err := m.detect(ctx)
	if err != nil {
		m.logger.Error("detection failed", zap.Error(err))
		return
	}

	// Threshold comparison in float64 after exact integer price derivation;
	// equality at the boundary passes.
	if opp.Kind == model.OpportunityNone || math.Abs(opp.SpreadBps) < float64(m.cfg.MinSpreadBps) {
		m.logger.Debug("no opportunity",
			zap.Float64("spreadBps", opp.SpreadBps),
			zap.Int64("minSpreadBps", m.cfg.MinSpreadBps))
		return
	}

	m.logger.Info("arbitrage opportunity",
		zap.String("kind", string(opp.Kind)),
		zap.Float64("spreadBps", opp.SpreadBps),
		zap.Float64("priceUniswap", opp.PriceUni),
		zap.Float64("pricePancake", opp.PricePan))

	if m.cfg.Mode == model.TraderModePolling {
		// Polling monitors only detect and snapshot; they never trade.
		if err := m.recordMetric(ctx); err != nil {
			m.logger.Error("record metric failed", zap.Error(err))
		}
		return
	}

	if err := m.execute(ctx, opp); err != nil {
		m.logger.Error("trade execution failed", zap.Error(err))
	}
}

// detect reads both pools concurrently and classifies the spread.
func (m *Monitor) detect(ctx context.Context) (model.Opportunity, error) {
	var priceUni, pricePan float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		priceUni, err = m.venuePrice(gctx, m.uniswap, m.uniPair)
		return err
	})
	g.Go(func() error {
		var err error
		pricePan, err = m.venuePrice(gctx, m.pancake, m.panPair)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Opportunity{}, err
	}

	return classify(priceUni, pricePan), nil
}

// venuePrice derives the quote-per-base price from the pool's current
// sqrtPriceX96.
func (m *Monitor) venuePrice(ctx context.Context, venue VenueAdapter, pair model.TradingPair) (float64, error) {
	pool := common.HexToAddress(pair.PoolAddress)
	state, err := venue.PoolState(ctx, pool)
	if err != nil {
		return 0, fmt.Errorf("pool state on %s: %w", venue.ID(), err)
	}

	d0, d1 := m.base.Decimals, m.quote.Decimals
	if common.HexToAddress(state.Token0) != common.HexToAddress(m.base.Address) {
		d0, d1 = d1, d0
	}
	raw, err := dex.PriceFromSqrtPrice(state.SqrtPriceX96, d0, d1)
	if err != nil {
		return 0, fmt.Errorf("price on %s: %w", venue.ID(), err)
	}
	return dex.NormalizeQuotePerBase(raw,
		common.HexToAddress(state.Token0), common.HexToAddress(state.Token1),
		common.HexToAddress(m.base.Address), common.HexToAddress(m.quote.Address))
}

// classify computes the relative spread of the Uniswap price over the
// Pancake price. A positive spread means the base trades higher on Uniswap,
// so the profitable direction is buy on Pancake, sell on Uniswap.
func classify(priceUni, pricePan float64) model.Opportunity {
	spread := (priceUni - pricePan) / pricePan
	opp := model.Opportunity{
		Spread:    spread,
		SpreadBps: spread * bpsDenominator,
		PriceUni:  priceUni,
		PricePan:  pricePan,
	}
	switch {
	case spread > 0:
		opp.Kind = model.BuyPancakeSellUniswap
	case spread < 0:
		opp.Kind = model.BuyUniswapSellPancake
	}
	return opp
}

// execute runs the two trade legs. The buy leg spends a configured fraction
// of the quote balance; the sell leg is sized from the observed base balance
// delta. Nonces are assigned explicitly from the account's current tx count
// so the approval/swap ordering is preserved. There is no rollback: a failed
// sell leg leaves the position as is.
func (m *Monitor) execute(ctx context.Context, opp model.Opportunity) error {
	buyVenue, buyPair := m.pancake, m.panPair
	sellVenue, sellPair := m.uniswap, m.uniPair
	if opp.Kind == model.BuyUniswapSellPancake {
		buyVenue, buyPair = m.uniswap, m.uniPair
		sellVenue, sellPair = m.pancake, m.panPair
	}

	account := m.sender.Address()
	baseAddr := common.HexToAddress(m.base.Address)
	quoteAddr := common.HexToAddress(m.quote.Address)

	nonce, err := m.chain.NonceAt(ctx, account)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	quoteBalance, err := m.balances.BalanceOf(ctx, quoteAddr, account)
	if err != nil {
		return fmt.Errorf("quote balance: %w", err)
	}
	baseBefore, err := m.balances.BalanceOf(ctx, baseAddr, account)
	if err != nil {
		return fmt.Errorf("base balance: %w", err)
	}

	amountIn := new(big.Int).Mul(quoteBalance, big.NewInt(m.cfg.TradeFractionBps))
	amountIn.Div(amountIn, big.NewInt(bpsDenominator))
	if amountIn.Sign() <= 0 {
		m.logger.Warn("quote balance too small to trade",
			zap.String("balance", quoteBalance.String()))
		return nil
	}

	// Buy leg: quote -> base on the cheap venue. A failure here aborts the
	// trade before any position changed hands.
	if nonce, err = m.swapLeg(ctx, buyVenue, buyPair, quoteAddr, baseAddr, amountIn, nonce); err != nil {
		return fmt.Errorf("buy leg on %s: %w", buyVenue.ID(), err)
	}

	baseAfter, err := m.balances.BalanceOf(ctx, baseAddr, account)
	if err != nil {
		return fmt.Errorf("base balance after buy: %w", err)
	}
	delta := new(big.Int).Sub(baseAfter, baseBefore)

	if delta.Sign() <= 0 {
		m.logger.Warn("no base received from buy leg, aborting cycle",
			zap.String("before", baseBefore.String()),
			zap.String("after", baseAfter.String()))
		return nil
	}

	// Sell leg: dump the acquired base on the expensive venue. A failure
	// is logged and audited, not rolled back.
	if _, err := m.swapLeg(ctx, sellVenue, sellPair, baseAddr, quoteAddr, delta, nonce); err != nil {
		m.logger.Error("sell leg failed, position left open",
			zap.String("exchange", string(sellVenue.ID())),
			zap.String("amount", delta.String()),
			zap.Error(err))
	}

	if err := m.recordMetric(ctx); err != nil {
		m.logger.Error("record metric failed", zap.Error(err))
	}
	return nil
}

// swapLeg quotes an exact-in swap, applies the slippage bound, builds the
// approval+swap transactions and submits them with consecutive nonces.
// Returns the next free nonce.
func (m *Monitor) swapLeg(ctx context.Context, venue VenueAdapter, pair model.TradingPair, tokenIn, tokenOut common.Address, amountIn *big.Int, nonce uint64) (uint64, error) {
	pool := common.HexToAddress(pair.PoolAddress)

	quote, err := venue.Quote(ctx, dex.QuoteExactIn{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		Pool:     pool,
		AmountIn: amountIn,
	})
	if err != nil {
		return nonce, fmt.Errorf("quote: %w", err)
	}

	minOut := new(big.Int).Mul(quote.AmountOut, big.NewInt(bpsDenominator-m.cfg.SlippageBps))
	minOut.Div(minOut, big.NewInt(bpsDenominator))

	txs, err := venue.SwapTransactions(ctx, m.sender.Address(), dex.SwapExactIn{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		Pool:         pool,
		AmountIn:     amountIn,
		AmountOutMin: minOut,
	}, dex.ApprovePermanent)
	if err != nil {
		return nonce, fmt.Errorf("build swap: %w", err)
	}

	for i := range txs {
		n := nonce
		txs[i].Nonce = &n
		if err := m.sender.Send(ctx, &txs[i]); err != nil {
			return nonce, fmt.Errorf("send tx nonce %d: %w", n, err)
		}
		nonce++
		m.txCount.Add(1)
	}

	m.logger.Info("swap submitted",
		zap.String("exchange", string(venue.ID())),
		zap.String("tokenIn", tokenIn.Hex()),
		zap.String("amountIn", amountIn.String()),
		zap.String("minOut", minOut.String()),
		zap.Int("txs", len(txs)))
	return nonce, nil
}

// recordMetric appends an audit snapshot of the account after a pass. The
// transaction counter is the monitor's own lifetime send count, not the
// account nonce, which lags pending submissions.
func (m *Monitor) recordMetric(ctx context.Context) error {
	account := m.sender.Address()

	block, err := m.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	baseBalance, err := m.normalizedBalance(ctx, m.base, account)
	if err != nil {
		return fmt.Errorf("base balance: %w", err)
	}
	quoteBalance, err := m.normalizedBalance(ctx, m.quote, account)
	if err != nil {
		return fmt.Errorf("quote balance: %w", err)
	}

	return m.store.AppendTraderMetric(ctx, model.TraderMetric{
		TraderAddress:     account.Hex(),
		BaseTokenAddress:  m.base.Address,
		QuoteTokenAddress: m.quote.Address,
		TraderMode:        m.cfg.Mode,
		BlockNumber:       block,
		TxCount:           m.txCount.Load(),
		BaseBalance:       baseBalance,
		QuoteBalance:      quoteBalance,
	})
}

func (m *Monitor) normalizedBalance(ctx context.Context, token model.Token, account common.Address) (float64, error) {
	balance, err := m.balances.BalanceOf(ctx, common.HexToAddress(token.Address), account)
	if err != nil {
		return 0, err
	}
	scalar := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(token.Decimals)), nil)
	text, err := numeric.ToDecimalString(balance, scalar)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(text, 64)
}
