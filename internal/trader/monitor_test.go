package trader

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"arbtrader/internal/dex"
	"arbtrader/internal/model"
)

var (
	baseAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	quoteAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	uniPool   = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	panPool   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

type memStore struct {
	mu      sync.Mutex
	tokens  map[string]model.Token
	pairs   []model.TradingPair
	metrics []model.TraderMetric
}

func (s *memStore) FindToken(_ context.Context, address string) (*model.Token, error) {
	if token, ok := s.tokens[address]; ok {
		return &token, nil
	}
	return nil, nil
}

func (s *memStore) CreateToken(_ context.Context, token model.Token) (*model.Token, error) {
	s.tokens[token.Address] = token
	return &token, nil
}

func (s *memStore) FindTradingPair(_ context.Context, base, quote string, exchange model.Exchange) (*model.TradingPair, error) {
	for _, pair := range s.pairs {
		if pair.BaseTokenAddress == base && pair.QuoteTokenAddress == quote && pair.Exchange == exchange {
			found := pair
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateTradingPair(_ context.Context, pair model.TradingPair) (*model.TradingPair, error) {
	s.pairs = append(s.pairs, pair)
	return &pair, nil
}

func (s *memStore) ListTradingPairs(_ context.Context) ([]model.TradingPair, error) {
	return append([]model.TradingPair(nil), s.pairs...), nil
}

func (s *memStore) AppendTraderMetric(_ context.Context, metric model.TraderMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
	return nil
}

func (s *memStore) ListTraderMetrics(_ context.Context) ([]model.TraderMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TraderMetric(nil), s.metrics...), nil
}

type fakeVenue struct {
	id         model.Exchange
	sqrtPrice  *big.Int
	stateCalls atomic.Int32
	gate       chan struct{}

	mu         sync.Mutex
	quoteCalls []dex.QuoteExactIn
	swapCalls  []dex.SwapExactIn
}

func (v *fakeVenue) ID() model.Exchange { return v.id }

func (v *fakeVenue) PoolState(ctx context.Context, pool common.Address) (model.PoolState, error) {
	v.stateCalls.Add(1)
	if v.gate != nil {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return model.PoolState{}, ctx.Err()
		}
	}
	return model.PoolState{
		Address:      pool.Hex(),
		Token0:       baseAddr.Hex(),
		Token1:       quoteAddr.Hex(),
		SqrtPriceX96: v.sqrtPrice,
		Liquidity:    big.NewInt(1),
	}, nil
}

func (v *fakeVenue) Quote(_ context.Context, intent dex.QuoteIntent) (dex.Quote, error) {
	in, ok := intent.(dex.QuoteExactIn)
	if !ok {
		return dex.Quote{}, fmt.Errorf("unexpected intent %T", intent)
	}
	v.mu.Lock()
	v.quoteCalls = append(v.quoteCalls, in)
	v.mu.Unlock()
	return dex.Quote{AmountOut: new(big.Int).Mul(in.AmountIn, big.NewInt(2))}, nil
}

func (v *fakeVenue) SwapTransactions(_ context.Context, initiator common.Address, intent dex.SwapIntent, _ dex.ApprovalPolicy) ([]dex.TxRequest, error) {
	in, ok := intent.(dex.SwapExactIn)
	if !ok {
		return nil, fmt.Errorf("unexpected intent %T", intent)
	}
	v.mu.Lock()
	v.swapCalls = append(v.swapCalls, in)
	v.mu.Unlock()
	// Approval then swap, like the real adapter on a cold allowance.
	return []dex.TxRequest{
		{From: initiator, To: in.TokenIn},
		{From: initiator, To: in.Pool},
	}, nil
}

type fakeSender struct {
	mu      sync.Mutex
	account common.Address
	nonces  []uint64
	failAt  int // 1-based send index that fails, 0 means never
}

func (s *fakeSender) Address() common.Address { return s.account }

func (s *fakeSender) Send(_ context.Context, req *dex.TxRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.nonces)+1 == s.failAt {
		return fmt.Errorf("execution reverted")
	}
	if req.Nonce == nil {
		return fmt.Errorf("nonce not assigned")
	}
	s.nonces = append(s.nonces, *req.Nonce)
	return nil
}

func (s *fakeSender) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

type fakeChain struct {
	block     uint64
	baseNonce uint64
	sender    *fakeSender
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) { return c.block, nil }

func (c *fakeChain) NonceAt(context.Context, common.Address) (uint64, error) {
	return c.baseNonce + uint64(c.sender.sent()), nil
}

func (c *fakeChain) SubscribeNewHeads(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return &fakeSubscription{errc: make(chan error)}, nil
}

type fakeSubscription struct {
	errc chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errc }

// seqBalances returns scripted balances per token, holding the last value
// once the script runs out.
type seqBalances struct {
	mu  sync.Mutex
	seq map[common.Address][]*big.Int
	idx map[common.Address]int
}

func newSeqBalances() *seqBalances {
	return &seqBalances{seq: map[common.Address][]*big.Int{}, idx: map[common.Address]int{}}
}

func (b *seqBalances) set(token common.Address, values ...int64) {
	var seq []*big.Int
	for _, v := range values {
		seq = append(seq, big.NewInt(v))
	}
	b.seq[token] = seq
}

func (b *seqBalances) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.seq[token]
	if len(seq) == 0 {
		return nil, fmt.Errorf("no balance script for %s", token.Hex())
	}
	i := b.idx[token]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	b.idx[token] = i + 1
	return new(big.Int).Set(seq[i]), nil
}

type fixture struct {
	monitor  *Monitor
	store    *memStore
	uniswap  *fakeVenue
	pancake  *fakeVenue
	sender   *fakeSender
	balances *seqBalances
}

func newFixture(t *testing.T, cfg Config, uniSqrt, panSqrt *big.Int) *fixture {
	t.Helper()

	store := &memStore{tokens: map[string]model.Token{
		baseAddr.Hex():  {Address: baseAddr.Hex(), Symbol: "WBNB", Decimals: 2},
		quoteAddr.Hex(): {Address: quoteAddr.Hex(), Symbol: "USDT", Decimals: 2},
	}}
	store.pairs = []model.TradingPair{
		{ID: 1, Exchange: model.ExchangeUniswapV3, PoolAddress: uniPool.Hex(), PoolFee: 500,
			BaseTokenAddress: baseAddr.Hex(), QuoteTokenAddress: quoteAddr.Hex()},
		{ID: 2, Exchange: model.ExchangePancakeV3, PoolAddress: panPool.Hex(), PoolFee: 500,
			BaseTokenAddress: baseAddr.Hex(), QuoteTokenAddress: quoteAddr.Hex()},
	}

	uniswap := &fakeVenue{id: model.ExchangeUniswapV3, sqrtPrice: uniSqrt}
	pancake := &fakeVenue{id: model.ExchangePancakeV3, sqrtPrice: panSqrt}
	sender := &fakeSender{account: common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")}
	chain := &fakeChain{block: 123, baseNonce: 7, sender: sender}
	balances := newSeqBalances()

	monitor := NewMonitor(uniswap, pancake, chain, balances, sender, store, cfg, zap.NewNop())
	if err := monitor.Bind(context.Background(), baseAddr.Hex(), quoteAddr.Hex()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return &fixture{monitor: monitor, store: store, uniswap: uniswap, pancake: pancake, sender: sender, balances: balances}
}

func TestClassifySpread(t *testing.T) {
	tests := []struct {
		name     string
		uni, pan float64
		wantKind model.OpportunityKind
		wantBps  float64
	}{
		{"uniswap higher", 4.0, 1.0, model.BuyPancakeSellUniswap, 30000},
		{"pancake higher", 1.0, 1.25, model.BuyUniswapSellPancake, -2000},
		{"equal", 2.0, 2.0, model.OpportunityNone, 0},
		{"small edge", 1.0010, 1.0, model.BuyPancakeSellUniswap, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := classify(tt.uni, tt.pan)
			if opp.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", opp.Kind, tt.wantKind)
			}
			if math.Abs(opp.SpreadBps-tt.wantBps) > 1e-6 {
				t.Fatalf("spreadBps = %v, want %v", opp.SpreadBps, tt.wantBps)
			}
		})
	}
}

func TestEvaluateDropsConcurrentTriggers(t *testing.T) {
	// Prices equal, so the gated pass ends without trading.
	f := newFixture(t, Config{}, q96, q96)
	gate := make(chan struct{})
	f.uniswap.gate = gate
	f.pancake.gate = gate

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.monitor.Evaluate(context.Background())
	}()

	// Wait until the first pass is inside the pool reads, then trigger again.
	for f.uniswap.stateCalls.Load() == 0 {
		runtime.Gosched()
	}
	f.monitor.Evaluate(context.Background())
	close(gate)
	wg.Wait()

	if got := f.uniswap.stateCalls.Load(); got != 1 {
		t.Fatalf("uniswap pool read %d times, want 1 (second trigger must be dropped)", got)
	}
	if got := f.pancake.stateCalls.Load(); got != 1 {
		t.Fatalf("pancake pool read %d times, want 1", got)
	}
}

func TestExecuteTwoLegs(t *testing.T) {
	// Uniswap at 4, Pancake at 1: buy on Pancake, sell on Uniswap.
	f := newFixture(t, Config{}, new(big.Int).Lsh(big.NewInt(2), 96), q96)
	// execute reads quote once, recordMetric once.
	f.balances.set(quoteAddr, 1_000_000, 980_000)
	// before buy, after buy, recordMetric.
	f.balances.set(baseAddr, 0, 500, 500)

	f.monitor.Evaluate(context.Background())

	// Default trade fraction is 200 bps of the quote balance.
	if len(f.pancake.swapCalls) != 1 {
		t.Fatalf("pancake swaps = %d, want 1", len(f.pancake.swapCalls))
	}
	buy := f.pancake.swapCalls[0]
	if buy.AmountIn.Int64() != 20_000 {
		t.Fatalf("buy amountIn = %s, want 20000", buy.AmountIn)
	}
	if buy.TokenIn != quoteAddr || buy.TokenOut != baseAddr {
		t.Fatalf("buy direction wrong: in=%s out=%s", buy.TokenIn.Hex(), buy.TokenOut.Hex())
	}
	// Quote doubles the input; 50 bps slippage off 40000.
	if buy.AmountOutMin.Int64() != 39_800 {
		t.Fatalf("buy minOut = %s, want 39800", buy.AmountOutMin)
	}

	// Sell leg sized by the observed base delta.
	if len(f.uniswap.swapCalls) != 1 {
		t.Fatalf("uniswap swaps = %d, want 1", len(f.uniswap.swapCalls))
	}
	sell := f.uniswap.swapCalls[0]
	if sell.AmountIn.Int64() != 500 {
		t.Fatalf("sell amountIn = %s, want 500", sell.AmountIn)
	}
	if sell.TokenIn != baseAddr || sell.TokenOut != quoteAddr {
		t.Fatalf("sell direction wrong: in=%s out=%s", sell.TokenIn.Hex(), sell.TokenOut.Hex())
	}

	// Four txs, consecutive nonces seeded from the chain tx count.
	want := []uint64{7, 8, 9, 10}
	if len(f.sender.nonces) != len(want) {
		t.Fatalf("sent %d txs, want %d", len(f.sender.nonces), len(want))
	}
	for i, n := range want {
		if f.sender.nonces[i] != n {
			t.Fatalf("tx %d nonce = %d, want %d", i, f.sender.nonces[i], n)
		}
	}

	metrics, _ := f.store.ListTraderMetrics(context.Background())
	if len(metrics) != 1 {
		t.Fatalf("metrics = %d, want 1", len(metrics))
	}
	m := metrics[0]
	if m.BlockNumber != 123 {
		t.Fatalf("metric block = %d, want 123", m.BlockNumber)
	}
	// The monitor's own lifetime send count, not the account nonce.
	if m.TxCount != 4 {
		t.Fatalf("metric tx count = %d, want 4", m.TxCount)
	}
	// Decimals 2: 500 raw base is 5.0, 980000 raw quote is 9800.0.
	if m.BaseBalance != 5.0 || m.QuoteBalance != 9800.0 {
		t.Fatalf("metric balances = %v/%v, want 5/9800", m.BaseBalance, m.QuoteBalance)
	}
	if m.TraderMode != model.TraderModeSubscription {
		t.Fatalf("metric mode = %q", m.TraderMode)
	}
}

func TestBuyLegRevertAbortsWithoutMetric(t *testing.T) {
	f := newFixture(t, Config{}, new(big.Int).Lsh(big.NewInt(2), 96), q96)
	f.balances.set(quoteAddr, 1_000_000)
	f.balances.set(baseAddr, 0)
	f.sender.failAt = 1

	f.monitor.Evaluate(context.Background())

	if len(f.uniswap.quoteCalls) != 0 {
		t.Fatalf("sell venue quoted %d times after buy failure, want 0", len(f.uniswap.quoteCalls))
	}
	metrics, _ := f.store.ListTraderMetrics(context.Background())
	if len(metrics) != 0 {
		t.Fatalf("metrics = %d after aborted trade, want 0", len(metrics))
	}
}

func TestNonPositiveDeltaAbortsCycle(t *testing.T) {
	f := newFixture(t, Config{}, new(big.Int).Lsh(big.NewInt(2), 96), q96)
	f.balances.set(quoteAddr, 1_000_000)
	// Base balance never moves.
	f.balances.set(baseAddr, 500, 500)

	f.monitor.Evaluate(context.Background())

	if len(f.uniswap.swapCalls) != 0 {
		t.Fatalf("sell leg ran with zero delta: %d swaps", len(f.uniswap.swapCalls))
	}
	// The buy leg still went out, but the cycle aborts unaudited.
	if f.sender.sent() != 2 {
		t.Fatalf("sent %d txs, want 2 (buy approval+swap)", f.sender.sent())
	}
	metrics, _ := f.store.ListTraderMetrics(context.Background())
	if len(metrics) != 0 {
		t.Fatalf("metrics = %d after aborted cycle, want 0", len(metrics))
	}
}

func TestSpreadThresholdGate(t *testing.T) {
	// 30000 bps of spread against a 40000 bps floor: no trade.
	f := newFixture(t, Config{MinSpreadBps: 40000}, new(big.Int).Lsh(big.NewInt(2), 96), q96)

	f.monitor.Evaluate(context.Background())

	if f.sender.sent() != 0 {
		t.Fatalf("sent %d txs below threshold, want 0", f.sender.sent())
	}
	metrics, _ := f.store.ListTraderMetrics(context.Background())
	if len(metrics) != 0 {
		t.Fatalf("metrics = %d, want 0", len(metrics))
	}
}

func TestPollingModeDetectsWithoutTrading(t *testing.T) {
	f := newFixture(t, Config{Mode: model.TraderModePolling}, new(big.Int).Lsh(big.NewInt(2), 96), q96)
	f.balances.set(quoteAddr, 1_000_000)
	f.balances.set(baseAddr, 500)

	f.monitor.Evaluate(context.Background())

	if f.sender.sent() != 0 {
		t.Fatalf("polling monitor sent %d txs, want 0", f.sender.sent())
	}
	metrics, _ := f.store.ListTraderMetrics(context.Background())
	if len(metrics) != 1 {
		t.Fatalf("metrics = %d, want 1", len(metrics))
	}
	if metrics[0].TraderMode != model.TraderModePolling {
		t.Fatalf("metric mode = %q, want %q", metrics[0].TraderMode, model.TraderModePolling)
	}
}

func TestStopLetsInFlightCycleFinish(t *testing.T) {
	f := newFixture(t, Config{}, new(big.Int).Lsh(big.NewInt(2), 96), q96)
	f.balances.set(quoteAddr, 1_000_000, 980_000)
	f.balances.set(baseAddr, 0, 500, 500)

	gate := make(chan struct{})
	f.uniswap.gate = gate
	f.pancake.gate = gate

	if err := f.monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for f.uniswap.stateCalls.Load() == 0 {
		runtime.Gosched()
	}

	// Detach the listener while the first evaluation sits in its pool reads.
	f.monitor.Stop()
	close(gate)

	deadline := time.Now().Add(5 * time.Second)
	for {
		metrics, _ := f.store.ListTraderMetrics(context.Background())
		if len(metrics) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cycle did not complete after Stop: %d txs sent, want 4", f.sender.sent())
		}
		runtime.Gosched()
	}
	if f.sender.sent() != 4 {
		t.Fatalf("sent %d txs, want 4", f.sender.sent())
	}
}

func TestStartRequiresBind(t *testing.T) {
	sender := &fakeSender{account: common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")}
	chain := &fakeChain{sender: sender}
	m := NewMonitor(&fakeVenue{}, &fakeVenue{}, chain, newSeqBalances(), sender,
		&memStore{tokens: map[string]model.Token{}}, Config{}, zap.NewNop())
	if err := m.Start(context.Background()); err != ErrNotBound {
		t.Fatalf("Start before Bind: err = %v, want ErrNotBound", err)
	}
}
