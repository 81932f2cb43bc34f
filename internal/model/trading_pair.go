package model

// TradingPair identifies a single pool on a single venue. The base/quote
// assignment is fixed at creation time and is independent of the pool's
// native token0/token1 ordering.
type TradingPair struct {
	ID                int64    `json:"id"`
	Exchange          Exchange `json:"exchange"`
	PoolAddress       string   `json:"pool_address"`
	PoolFee           uint32   `json:"pool_fee"`
	BaseTokenAddress  string   `json:"base_token_address"`
	QuoteTokenAddress string   `json:"quote_token_address"`

	BaseToken  *Token `json:"base_token,omitempty"`
	QuoteToken *Token `json:"quote_token,omitempty"`
}
