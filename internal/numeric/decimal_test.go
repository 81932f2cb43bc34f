package numeric

import (
	"errors"
	"math/big"
	"testing"
)

func TestToDecimalString(t *testing.T) {
	cases := []struct {
		name   string
		value  string
		scalar string
		want   string
	}{
		{"fractional", "123456789", "1000000", "123.456789"},
		{"whole", "1000000", "1000000", "1"},
		{"zero", "0", "1000000", "0"},
		{"trailing zeros trimmed", "1500000", "1000000", "1.5"},
		{"leading fractional zeros", "1000001", "1000000", "1.000001"},
		{"sub one", "5", "1000000", "0.000005"},
		{"scalar one", "42", "1", "42"},
		{"huge value", "123456789012345678901234567890", "1000000000000000000", "123456789012.34567890123456789"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			value, _ := new(big.Int).SetString(tc.value, 10)
			scalar, _ := new(big.Int).SetString(tc.scalar, 10)
			got, err := ToDecimalString(value, scalar)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ToDecimalString(%s, %s) = %q, want %q", tc.value, tc.scalar, got, tc.want)
			}
		})
	}
}

func TestToDecimalStringInvalidScalar(t *testing.T) {
	if _, err := ToDecimalString(big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrInvalidScalar) {
		t.Fatalf("expected ErrInvalidScalar for zero scalar, got %v", err)
	}
	if _, err := ToDecimalString(big.NewInt(1), big.NewInt(-10)); !errors.Is(err, ErrInvalidScalar) {
		t.Fatalf("expected ErrInvalidScalar for negative scalar, got %v", err)
	}
	if _, err := ToDecimalString(big.NewInt(1), nil); !errors.Is(err, ErrInvalidScalar) {
		t.Fatalf("expected ErrInvalidScalar for nil scalar, got %v", err)
	}
}
