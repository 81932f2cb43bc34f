package numeric

import (
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidRange is returned when max < min.
var ErrInvalidRange = errors.New("max must not be less than min")

// RandomIntInRange returns a uniformly distributed integer in [min, max],
// both inclusive, using a cryptographically strong source. Candidates are
// drawn at the minimal bit width covering the range and rejected above the
// largest multiple of the range size, so the final reduction carries no
// modulo bias.
func RandomIntInRange(min, max *big.Int) (*big.Int, error) {
	if min == nil || max == nil {
		return nil, ErrInvalidRange
	}
	switch max.Cmp(min) {
	case -1:
		return nil, ErrInvalidRange
	case 0:
		return new(big.Int).Set(min), nil
	}

	size := new(big.Int).Sub(max, min)
	size.Add(size, big.NewInt(1)) // range+1 distinct values

	bits := new(big.Int).Sub(size, big.NewInt(1)).BitLen()
	byteLen := (bits + 7) / 8
	highMask := byte(0xff >> (uint(byteLen*8-bits) % 8))

	// Largest multiple of size that fits in bits: floor(2^bits/size)*size.
	space := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	limit := new(big.Int).Quo(space, size)
	limit.Mul(limit, size)

	buf := make([]byte, byteLen)
	candidate := new(big.Int)
	for {
		if _, err := cryptorand.Read(buf); err != nil {
			return nil, fmt.Errorf("read random bytes: %w", err)
		}
		buf[0] &= highMask
		candidate.SetBytes(buf)
		if candidate.Cmp(limit) >= 0 {
			continue
		}
		candidate.Mod(candidate, size)
		return candidate.Add(candidate, min), nil
	}
}
