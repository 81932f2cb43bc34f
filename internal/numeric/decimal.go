package numeric

import (
	"errors"
	"math/big"
	"strings"
)

// ErrInvalidScalar is returned when a decimal conversion scalar is not positive.
var ErrInvalidScalar = errors.New("scalar must be positive")

// ToDecimalString renders value/scalar as a decimal string with trailing
// zeros trimmed from the fractional part. The scalar is expected to be a
// power of ten (e.g. 10^decimals); the fractional width is digits(scalar)-1.
//
//	ToDecimalString(123456789, 1000000) == "123.456789"
//	ToDecimalString(1000000, 1000000) == "1"
func ToDecimalString(value, scalar *big.Int) (string, error) {
	if scalar == nil || scalar.Sign() <= 0 {
		return "", ErrInvalidScalar
	}

	quotient := new(big.Int)
	remainder := new(big.Int)
	quotient.QuoRem(value, scalar, remainder)
	remainder.Abs(remainder)

	scalarDigits := len(scalar.String()) - 1
	fractional := remainder.String()
	if pad := scalarDigits - len(fractional); pad > 0 {
		fractional = strings.Repeat("0", pad) + fractional
	}
	fractional = strings.TrimRight(fractional, "0")

	if fractional == "" {
		return quotient.String(), nil
	}
	return quotient.String() + "." + fractional, nil
}
