package token

import (
	"math/big"
	"testing"

	xerrors "KlimaFlow-Chain/internal/errors"
)

func TestToBaseUnitsExact(t *testing.T) {
	cases := []struct {
		amount string
		want   string
	}{
		{"1", "1000000000000000000"},
		{"10", "10000000000000000000"},
		{"0.5", "500000000000000000"},
		{"0.000000000000000001", "1"},
		{"123.456789012345678901", "123456789012345678901"},
		{"123.4567890123456789012", ""},
		{"1234567890.123456789012345678", "1234567890123456789012345678"},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(tc.amount)
		if tc.want == "" {
			if err == nil {
				t.Fatalf("ToBaseUnits(%q): expected precision error, got %s", tc.amount, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ToBaseUnits(%q): %v", tc.amount, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ToBaseUnits(%q) = %s, want %s", tc.amount, got, tc.want)
		}
	}
}

func TestBaseUnitsRoundTrip(t *testing.T) {
	for _, amount := range []string{"0", "1", "5", "10", "0.25", "42.000000000000000001", "999999999999.999999999999999999"} {
		base, err := ToBaseUnits(amount)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q): %v", amount, err)
		}
		back, err := ToBaseUnits(FromBaseUnits(base))
		if err != nil {
			t.Fatalf("round trip parse of %q: %v", amount, err)
		}
		if back.Cmp(base) != 0 {
			t.Fatalf("round trip of %q changed value: %s vs %s", amount, back, base)
		}
	}
}

func TestFromBaseUnitsDisplay(t *testing.T) {
	if got := FromBaseUnits(big.NewInt(5_000_000_000_000_000_000)); got != "5" {
		t.Fatalf("FromBaseUnits(5e18) = %q, want \"5\"", got)
	}
	if got := FromBaseUnits(nil); got != "0" {
		t.Fatalf("FromBaseUnits(nil) = %q, want \"0\"", got)
	}
}

func TestToBaseUnitsRejectsInvalid(t *testing.T) {
	for _, amount := range []string{"", "abc", "-5", "1.2.3"} {
		if _, err := ToBaseUnits(amount); err == nil {
			t.Fatalf("ToBaseUnits(%q): expected error", amount)
		}
	}
}

func TestValidateAmountRejectsNonPositive(t *testing.T) {
	for _, amount := range []string{"0", "-5", "0.0"} {
		_, err := ValidateAmount(amount)
		if err == nil {
			t.Fatalf("ValidateAmount(%q): expected error", amount)
		}
		if xerrors.CodeOf(err) != xerrors.CodeValidation {
			t.Fatalf("ValidateAmount(%q): unexpected code %s", amount, xerrors.CodeOf(err))
		}
	}
	if _, err := ValidateAmount("10"); err != nil {
		t.Fatalf("ValidateAmount(10): %v", err)
	}
}
