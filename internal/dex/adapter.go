package dex

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arbtrader/internal/model"
)

const defaultSwapGasLimit = 300000

// swapDeadline is enforced on-chain by the router, not by a local timer.
const swapDeadline = 2 * time.Minute

// VenueConfig holds the per-venue contract addresses.
type VenueConfig struct {
	Router common.Address
	Quoter common.Address
}

// Adapter abstracts a single V3-style DEX venue. Both supported venues share
// one contract shape; they differ only in the router's swap-call encoding.
type Adapter struct {
	exchange    model.Exchange
	cfg         VenueConfig
	caller      Caller
	logger      *zap.Logger
	useDeadline bool
}

// NewAdapter builds an adapter for the given venue. The Pancake router
// encoding carries an explicit deadline parameter; SwapRouter02 does not.
func NewAdapter(exchange model.Exchange, cfg VenueConfig, caller Caller, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		exchange:    exchange,
		cfg:         cfg,
		caller:      caller,
		logger:      logger.With(zap.String("exchange", string(exchange))),
		useDeadline: exchange == model.ExchangePancakeV3,
	}
}

// ID returns the venue identity.
func (a *Adapter) ID() model.Exchange {
	return a.exchange
}

// PoolFee reads the pool's fee tier.
func (a *Adapter) PoolFee(ctx context.Context, pool common.Address) (uint32, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return 0, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, a.caller, pool, parsed, "fee")
	if err != nil {
		return 0, err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("fee: %w", err)
	}
	return uint32(fee.Uint64()), nil
}

// PoolState fetches the pool's live state. All reads are issued concurrently
// and joined before returning.
func (a *Adapter) PoolState(ctx context.Context, pool common.Address) (model.PoolState, error) {
	parsed, err := V3PoolABI()
	if err != nil {
		return model.PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}

	var (
		sqrtPrice   *big.Int
		tick        int32
		feeProtocol uint8
		liquidity   *big.Int
		token0      common.Address
		token1      common.Address
		blockNumber uint64
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		values, err := callMethod(gctx, a.caller, pool, parsed, "slot0")
		if err != nil {
			return err
		}
		if sqrtPrice, err = asBigInt(values[0]); err != nil {
			return fmt.Errorf("sqrt price: %w", err)
		}
		tickBig, err := asBigInt(values[1])
		if err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if tick, err = int24FromBig(tickBig); err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if feeProtocol, err = asUint8(values[5]); err != nil {
			return fmt.Errorf("fee protocol: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		values, err := callMethod(gctx, a.caller, pool, parsed, "liquidity")
		if err != nil {
			return err
		}
		liquidity, err = asBigInt(values[0])
		return err
	})

	g.Go(func() error {
		values, err := callMethod(gctx, a.caller, pool, parsed, "token0")
		if err != nil {
			return err
		}
		token0, err = asAddress(values[0])
		return err
	})

	g.Go(func() error {
		values, err := callMethod(gctx, a.caller, pool, parsed, "token1")
		if err != nil {
			return err
		}
		token1, err = asAddress(values[0])
		return err
	})

	g.Go(func() error {
		var err error
		blockNumber, err = a.caller.BlockNumber(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return model.PoolState{}, fmt.Errorf("pool state %s: %w", pool.Hex(), err)
	}

	return model.PoolState{
		Address:        pool.Hex(),
		Token0:         token0.Hex(),
		Token1:         token1.Hex(),
		Liquidity:      liquidity,
		SqrtPriceX96:   sqrtPrice,
		Tick:           tick,
		FeeProtocol:    feeProtocol,
		UpdatedAtBlock: blockNumber,
	}, nil
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoteExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Amount            *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Quote simulates a swap against the venue's quoter via eth_call. Exact-in
// intents fill Quote.AmountOut; exact-out intents fill Quote.AmountIn.
func (a *Adapter) Quote(ctx context.Context, intent QuoteIntent) (Quote, error) {
	parsed, err := QuoterV2ABI()
	if err != nil {
		return Quote{}, fmt.Errorf("parse quoter abi: %w", err)
	}

	switch q := intent.(type) {
	case QuoteExactIn:
		fee, err := a.PoolFee(ctx, q.Pool)
		if err != nil {
			return Quote{}, err
		}
		values, err := callMethod(ctx, a.caller, a.cfg.Quoter, parsed, "quoteExactInputSingle", quoteExactInputSingleParams{
			TokenIn:           q.TokenIn,
			TokenOut:          q.TokenOut,
			AmountIn:          q.AmountIn,
			Fee:               new(big.Int).SetUint64(uint64(fee)),
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return Quote{}, err
		}
		return decodeQuote(values, true)
	case QuoteExactOut:
		fee, err := a.PoolFee(ctx, q.Pool)
		if err != nil {
			return Quote{}, err
		}
		values, err := callMethod(ctx, a.caller, a.cfg.Quoter, parsed, "quoteExactOutputSingle", quoteExactOutputSingleParams{
			TokenIn:           q.TokenIn,
			TokenOut:          q.TokenOut,
			Amount:            q.AmountOut,
			Fee:               new(big.Int).SetUint64(uint64(fee)),
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return Quote{}, err
		}
		return decodeQuote(values, false)
	default:
		return Quote{}, fmt.Errorf("unsupported quote intent %T", intent)
	}
}

func decodeQuote(values []interface{}, exactIn bool) (Quote, error) {
	if len(values) < 4 {
		return Quote{}, fmt.Errorf("quoter returned %d values", len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return Quote{}, fmt.Errorf("quote amount: %w", err)
	}
	sqrtAfter, err := asBigInt(values[1])
	if err != nil {
		return Quote{}, fmt.Errorf("sqrt price after: %w", err)
	}
	ticks, err := asUint32(values[2])
	if err != nil {
		return Quote{}, fmt.Errorf("ticks crossed: %w", err)
	}
	gas, err := asBigInt(values[3])
	if err != nil {
		return Quote{}, fmt.Errorf("gas estimate: %w", err)
	}

	quote := Quote{
		SqrtPriceX96After: sqrtAfter,
		TicksCrossed:      ticks,
		GasEstimate:       gas,
	}
	if exactIn {
		quote.AmountOut = amount
	} else {
		quote.AmountIn = amount
	}
	return quote, nil
}

type deadlineExactInputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type deadlineExactOutputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

type router02ExactInputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type router02ExactOutputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapTransactions builds the ordered, unsigned transaction list for a swap:
// an approval first when the initiator's allowance for the router is below
// the required input, then the swap itself. Nothing is signed or sent here.
func (a *Adapter) SwapTransactions(ctx context.Context, initiator common.Address, intent SwapIntent, policy ApprovalPolicy) ([]TxRequest, error) {
	fee, err := a.PoolFee(ctx, intent.PoolAddress())
	if err != nil {
		return nil, err
	}

	chainID, err := a.caller.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	var txs []TxRequest

	tokenIn := NewERC20(a.caller, intent.InputToken())
	allowance, err := tokenIn.Allowance(ctx, initiator, a.cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	required := intent.AmountInRequired()
	if allowance.Cmp(required) < 0 {
		approvalAmount := MaxUint256
		if policy == ApproveExact {
			approvalAmount = required
		}
		approveTx, err := tokenIn.ApproveTx(ctx, initiator, a.cfg.Router, approvalAmount)
		if err != nil {
			return nil, fmt.Errorf("build approval: %w", err)
		}
		txs = append(txs, approveTx)
	}

	data, err := a.encodeSwap(intent, initiator, fee)
	if err != nil {
		return nil, err
	}

	txs = append(txs, TxRequest{
		ChainID: chainID,
		From:    initiator,
		To:      a.cfg.Router,
		Gas:     defaultSwapGasLimit,
		Data:    data,
	})
	return txs, nil
}

func (a *Adapter) encodeSwap(intent SwapIntent, initiator common.Address, fee uint32) ([]byte, error) {
	feeBig := new(big.Int).SetUint64(uint64(fee))
	defaultDeadline := big.NewInt(time.Now().Add(swapDeadline).Unix())

	if a.useDeadline {
		parsed, err := DeadlineRouterABI()
		if err != nil {
			return nil, fmt.Errorf("parse router abi: %w", err)
		}
		switch s := intent.(type) {
		case SwapExactIn:
			return parsed.Pack("exactInputSingle", deadlineExactInputParams{
				TokenIn:           s.TokenIn,
				TokenOut:          s.TokenOut,
				Fee:               feeBig,
				Recipient:         recipientOr(s.Recipient, initiator),
				Deadline:          deadlineOr(s.Deadline, defaultDeadline),
				AmountIn:          s.AmountIn,
				AmountOutMinimum:  s.AmountOutMin,
				SqrtPriceLimitX96: big.NewInt(0),
			})
		case SwapExactOut:
			return parsed.Pack("exactOutputSingle", deadlineExactOutputParams{
				TokenIn:           s.TokenIn,
				TokenOut:          s.TokenOut,
				Fee:               feeBig,
				Recipient:         recipientOr(s.Recipient, initiator),
				Deadline:          deadlineOr(s.Deadline, defaultDeadline),
				AmountOut:         s.AmountOut,
				AmountInMaximum:   s.AmountInMax,
				SqrtPriceLimitX96: big.NewInt(0),
			})
		default:
			return nil, fmt.Errorf("unsupported swap intent %T", intent)
		}
	}

	parsed, err := Router02ABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	switch s := intent.(type) {
	case SwapExactIn:
		return parsed.Pack("exactInputSingle", router02ExactInputParams{
			TokenIn:           s.TokenIn,
			TokenOut:          s.TokenOut,
			Fee:               feeBig,
			Recipient:         recipientOr(s.Recipient, initiator),
			AmountIn:          s.AmountIn,
			AmountOutMinimum:  s.AmountOutMin,
			SqrtPriceLimitX96: big.NewInt(0),
		})
	case SwapExactOut:
		return parsed.Pack("exactOutputSingle", router02ExactOutputParams{
			TokenIn:           s.TokenIn,
			TokenOut:          s.TokenOut,
			Fee:               feeBig,
			Recipient:         recipientOr(s.Recipient, initiator),
			AmountOut:         s.AmountOut,
			AmountInMaximum:   s.AmountInMax,
			SqrtPriceLimitX96: big.NewInt(0),
		})
	default:
		return nil, fmt.Errorf("unsupported swap intent %T", intent)
	}
}

func recipientOr(recipient, fallback common.Address) common.Address {
	if recipient == (common.Address{}) {
		return fallback
	}
	return recipient
}

func deadlineOr(deadline, fallback *big.Int) *big.Int {
	if deadline == nil {
		return fallback
	}
	return deadline
}
