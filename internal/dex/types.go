package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the read/simulate surface the adapters need from the chain
// client. Implemented by chain.Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxRequest is an unsigned transaction built by an adapter. Signing and
// submission are the sender's responsibility.
type TxRequest struct {
	ChainID *big.Int
	From    common.Address
	To      common.Address
	Value   *big.Int
	Gas     uint64
	Data    []byte
	Nonce   *uint64
}

// ApprovalPolicy controls how an approval transaction is sized when the
// current allowance is insufficient.
type ApprovalPolicy int

const (
	// ApprovePermanent approves the maximum representable amount, amortizing
	// future approval costs. The default.
	ApprovePermanent ApprovalPolicy = iota
	// ApproveExact approves exactly the amount this swap requires.
	ApproveExact
)

// MaxUint256 is the permanent approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// SwapIntent is a sum type over the two single-hop swap shapes.
type SwapIntent interface {
	swapIntent()
	// PoolAddress returns the pool whose fee tier the swap uses.
	PoolAddress() common.Address
	// InputToken returns the token being spent.
	InputToken() common.Address
	// AmountInRequired returns the input amount the allowance must cover.
	AmountInRequired() *big.Int
}

// SwapExactIn spends a fixed input amount for at least AmountOutMin.
type SwapExactIn struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Pool         common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Deadline     *big.Int       // unix seconds, defaulted by the adapter
	Recipient    common.Address // zero means the initiator
}

func (SwapExactIn) swapIntent()                   {}
func (s SwapExactIn) PoolAddress() common.Address { return s.Pool }
func (s SwapExactIn) InputToken() common.Address  { return s.TokenIn }
func (s SwapExactIn) AmountInRequired() *big.Int  { return s.AmountIn }

// SwapExactOut buys a fixed output amount for at most AmountInMax.
type SwapExactOut struct {
	TokenIn     common.Address
	TokenOut    common.Address
	Pool        common.Address
	AmountOut   *big.Int
	AmountInMax *big.Int
	Deadline    *big.Int
	Recipient   common.Address
}

func (SwapExactOut) swapIntent()                   {}
func (s SwapExactOut) PoolAddress() common.Address { return s.Pool }
func (s SwapExactOut) InputToken() common.Address  { return s.TokenIn }
func (s SwapExactOut) AmountInRequired() *big.Int  { return s.AmountInMax }

// QuoteIntent is a sum type over the two quoting shapes.
type QuoteIntent interface{ quoteIntent() }

// QuoteExactIn asks how much TokenOut a fixed input buys.
type QuoteExactIn struct {
	TokenIn  common.Address
	TokenOut common.Address
	Pool     common.Address
	AmountIn *big.Int
}

func (QuoteExactIn) quoteIntent() {}

// QuoteExactOut asks how much TokenIn a fixed output costs.
type QuoteExactOut struct {
	TokenIn   common.Address
	TokenOut  common.Address
	Pool      common.Address
	AmountOut *big.Int
}

func (QuoteExactOut) quoteIntent() {}

// Quote is the quoter's answer. AmountOut is set for exact-in intents,
// AmountIn for exact-out intents.
type Quote struct {
	AmountOut         *big.Int
	AmountIn          *big.Int
	SqrtPriceX96After *big.Int
	TicksCrossed      uint32
	GasEstimate       *big.Int
}
