package model

import "math/big"

// PoolState is a live snapshot of a V3 pool. It is fetched on demand and
// never persisted; token0/token1 follow the pool's native ordering.
type PoolState struct {
	Address        string
	Token0         string
	Token1         string
	Liquidity      *big.Int
	SqrtPriceX96   *big.Int
	Tick           int32
	FeeProtocol    uint8
	UpdatedAtBlock uint64
}
