package dex

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"arbtrader/internal/numeric"
)

// ErrInvalidPrice is returned when a normalized price is non-finite or not
// positive.
var ErrInvalidPrice = errors.New("invalid price")

var pricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PriceFromSqrtPrice converts a pool's Q96 square-root price into the linear
// token1-per-token0 price as a decimal string with 18 fractional digits. The
// whole pipeline stays in big.Int; no floating point is involved.
func PriceFromSqrtPrice(sqrtPriceX96 *big.Int, token0Decimals, token1Decimals uint8) (string, error) {
	if sqrtPriceX96 == nil {
		return "", fmt.Errorf("sqrt price is nil")
	}

	q192 := new(big.Int).Lsh(big.NewInt(1), 192)
	squared := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)

	diff := int64(token0Decimals) - int64(token1Decimals)
	if diff < 0 {
		diff = -diff
	}
	adjustment := new(big.Int).Exp(big.NewInt(10), big.NewInt(diff), nil)

	scaled := new(big.Int)
	if token0Decimals > token1Decimals {
		scaled.Mul(squared, adjustment)
		scaled.Mul(scaled, pricePrecision)
		scaled.Quo(scaled, q192)
	} else {
		scaled.Mul(squared, pricePrecision)
		scaled.Quo(scaled, new(big.Int).Mul(q192, adjustment))
	}

	return numeric.ToDecimalString(scaled, pricePrecision)
}

// NormalizeQuotePerBase orients a raw token1-per-token0 price as
// quote-per-base. When the pool's native ordering already matches the
// configured base/quote the raw value stands; otherwise it is inverted.
func NormalizeQuotePerBase(rawPrice string, token0, token1, base, quote common.Address) (float64, error) {
	value, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, rawPrice)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, rawPrice)
	}

	if token0 == base && token1 == quote {
		return value, nil
	}
	return 1 / value, nil
}
