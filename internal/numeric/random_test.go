package numeric

import (
	"errors"
	"math/big"
	"testing"
)

func TestRandomIntInRangeBounds(t *testing.T) {
	min := big.NewInt(-7)
	max := big.NewInt(13)
	for i := 0; i < 500; i++ {
		got, err := RandomIntInRange(min, max)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Cmp(min) < 0 || got.Cmp(max) > 0 {
			t.Fatalf("value %s outside [%s, %s]", got, min, max)
		}
	}
}

func TestRandomIntInRangeDegenerate(t *testing.T) {
	min := big.NewInt(42)
	got, err := RandomIntInRange(min, big.NewInt(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(min) != 0 {
		t.Fatalf("min == max must return min, got %s", got)
	}

	if _, err := RandomIntInRange(big.NewInt(10), big.NewInt(9)); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

// Chi-square test against uniform over a range that is not a power of two,
// which is exactly where naive modulo reduction shows bias.
func TestRandomIntInRangeUniform(t *testing.T) {
	const buckets = 10
	const samples = 20000

	min := big.NewInt(0)
	max := big.NewInt(buckets - 1)

	counts := make([]int, buckets)
	for i := 0; i < samples; i++ {
		got, err := RandomIntInRange(min, max)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[got.Int64()]++
	}

	expected := float64(samples) / buckets
	chi2 := 0.0
	for _, c := range counts {
		diff := float64(c) - expected
		chi2 += diff * diff / expected
	}

	// 9 degrees of freedom, p=0.001 critical value is 27.88.
	if chi2 > 27.88 {
		t.Fatalf("distribution not uniform: chi2=%.2f counts=%v", chi2, counts)
	}
}

func TestRandomIntInRangeWide(t *testing.T) {
	min, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	max, _ := new(big.Int).SetString("1000000000000000000001000", 10)
	for i := 0; i < 100; i++ {
		got, err := RandomIntInRange(min, max)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Cmp(min) < 0 || got.Cmp(max) > 0 {
			t.Fatalf("value %s outside wide range", got)
		}
	}
}
