package model

import "fmt"

// Exchange identifies a supported DEX venue.
type Exchange string

const (
	ExchangeUniswapV3 Exchange = "UNISWAP_V3"
	ExchangePancakeV3 Exchange = "PANCAKE_V3"
)

// ParseExchange validates a venue identifier.
func ParseExchange(value string) (Exchange, error) {
	switch Exchange(value) {
	case ExchangeUniswapV3:
		return ExchangeUniswapV3, nil
	case ExchangePancakeV3:
		return ExchangePancakeV3, nil
	default:
		return "", fmt.Errorf("unknown exchange: %q", value)
	}
}

// TraderMode records how a trader observes the chain.
type TraderMode string

const (
	TraderModePolling      TraderMode = "POLLING"
	TraderModeSubscription TraderMode = "SUBSCRIPTION"
)
