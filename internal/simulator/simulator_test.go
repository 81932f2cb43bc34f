package simulator

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbtrader/internal/dex"
	"arbtrader/internal/model"
)

type memStore struct {
	pairs []model.TradingPair
}

func (s *memStore) FindToken(context.Context, string) (*model.Token, error) { return nil, nil }
func (s *memStore) CreateToken(_ context.Context, t model.Token) (*model.Token, error) {
	return &t, nil
}
func (s *memStore) FindTradingPair(context.Context, string, string, model.Exchange) (*model.TradingPair, error) {
	return nil, nil
}
func (s *memStore) CreateTradingPair(_ context.Context, p model.TradingPair) (*model.TradingPair, error) {
	return &p, nil
}
func (s *memStore) ListTradingPairs(context.Context) ([]model.TradingPair, error) {
	return s.pairs, nil
}
func (s *memStore) AppendTraderMetric(context.Context, model.TraderMetric) error { return nil }
func (s *memStore) ListTraderMetrics(context.Context) ([]model.TraderMetric, error) {
	return nil, nil
}

type fakeVenue struct {
	id    model.Exchange
	swaps []dex.SwapExactIn
}

func (v *fakeVenue) ID() model.Exchange { return v.id }

func (v *fakeVenue) Quote(_ context.Context, intent dex.QuoteIntent) (dex.Quote, error) {
	in, ok := intent.(dex.QuoteExactIn)
	if !ok {
		return dex.Quote{}, fmt.Errorf("unexpected intent %T", intent)
	}
	return dex.Quote{AmountOut: new(big.Int).Set(in.AmountIn)}, nil
}

func (v *fakeVenue) SwapTransactions(_ context.Context, initiator common.Address, intent dex.SwapIntent, _ dex.ApprovalPolicy) ([]dex.TxRequest, error) {
	in, ok := intent.(dex.SwapExactIn)
	if !ok {
		return nil, fmt.Errorf("unexpected intent %T", intent)
	}
	v.swaps = append(v.swaps, in)
	return []dex.TxRequest{{From: initiator, To: in.Pool}}, nil
}

type fakeChain struct{ nonce uint64 }

func (c *fakeChain) NonceAt(context.Context, common.Address) (uint64, error) {
	return c.nonce, nil
}

type fakeSender struct {
	account common.Address
	nonces  []uint64
}

func (s *fakeSender) Address() common.Address { return s.account }

func (s *fakeSender) Send(_ context.Context, req *dex.TxRequest) error {
	if req.Nonce == nil {
		return fmt.Errorf("nonce not assigned")
	}
	s.nonces = append(s.nonces, *req.Nonce)
	return nil
}

func TestRunOnceSwapsWithinBounds(t *testing.T) {
	base := &model.Token{Address: "0x1111111111111111111111111111111111111111", Symbol: "WBNB", Decimals: 18}
	quote := &model.Token{Address: "0x2222222222222222222222222222222222222222", Symbol: "USDT", Decimals: 18}
	store := &memStore{pairs: []model.TradingPair{{
		ID:                1,
		Exchange:          model.ExchangePancakeV3,
		PoolAddress:       "0x3333333333333333333333333333333333333333",
		BaseTokenAddress:  base.Address,
		QuoteTokenAddress: quote.Address,
		BaseToken:         base,
		QuoteToken:        quote,
	}}}

	venue := &fakeVenue{id: model.ExchangePancakeV3}
	sender := &fakeSender{account: common.HexToAddress("0x4444444444444444444444444444444444444444")}
	sim := New(store, map[model.Exchange]Venue{model.ExchangePancakeV3: venue}, &fakeChain{nonce: 3}, sender, 0, zap.NewNop())

	if err := sim.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(venue.swaps) != 1 {
		t.Fatalf("swaps = %d, want 1", len(venue.swaps))
	}
	swap := venue.swaps[0]

	// 0.001 to 1.0 units of an 18-decimals token.
	min := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if swap.AmountIn.Cmp(min) < 0 || swap.AmountIn.Cmp(max) > 0 {
		t.Fatalf("amountIn %s outside [%s, %s]", swap.AmountIn, min, max)
	}

	// 50 bps slippage off the quote (fake quoter returns amountIn).
	wantMin := new(big.Int).Mul(swap.AmountIn, big.NewInt(9950))
	wantMin.Div(wantMin, big.NewInt(10000))
	if swap.AmountOutMin.Cmp(wantMin) != 0 {
		t.Fatalf("minOut = %s, want %s", swap.AmountOutMin, wantMin)
	}

	if len(sender.nonces) != 1 || sender.nonces[0] != 3 {
		t.Fatalf("nonces = %v, want [3]", sender.nonces)
	}
}

func TestRunOnceNoPairsIsTransient(t *testing.T) {
	sim := New(&memStore{}, nil, &fakeChain{}, &fakeSender{}, 0, zap.NewNop())
	if err := sim.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce with no pairs: %v", err)
	}
}
