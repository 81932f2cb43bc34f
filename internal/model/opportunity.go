package model

// OpportunityKind classifies which venue is cheaper for the base asset.
// It exists only within one evaluation cycle.
type OpportunityKind string

const (
	// OpportunityNone means both venues quote the same price.
	OpportunityNone OpportunityKind = ""
	// BuyPancakeSellUniswap: Pancake quotes the base cheaper.
	BuyPancakeSellUniswap OpportunityKind = "BUY_PANCAKE_SELL_UNISWAP"
	// BuyUniswapSellPancake: Uniswap quotes the base cheaper.
	BuyUniswapSellPancake OpportunityKind = "BUY_UNISWAP_SELL_PANCAKE"
)

// Opportunity pairs a classification with the observed relative spread.
type Opportunity struct {
	Kind      OpportunityKind
	Spread    float64
	SpreadBps float64
	PriceUni  float64
	PricePan  float64
}
