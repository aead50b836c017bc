package common

import (
	"math/big"
	"testing"
)

func TestParseFixed8(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1", 100_000_000, true},
		{"0.00000001", 1, true},
		{"43250.5", 4_325_050_000_000, true},
		{" 2.5 ", 250_000_000, true},
		{"-1.5", -150_000_000, true},
		{"0.000000001", 0, false}, // ninth decimal place
		{"", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseFixed8(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseFixed8(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
		}
		if err == nil && got.Int64() != tc.want {
			t.Fatalf("ParseFixed8(%q) = %d, want %d", tc.in, got.Int64(), tc.want)
		}
	}
}

func TestFormatFixed8(t *testing.T) {
	if got := FormatFixed8(big.NewInt(4_325_050_000_000)); got != "43250.50000000" {
		t.Fatalf("got %q", got)
	}
	if got := FormatFixed8(nil); got != "0.00000000" {
		t.Fatalf("nil: got %q", got)
	}
}

func TestMulFixed8(t *testing.T) {
	// 1.5 * 900 = 1350
	got := MulFixed8(big.NewInt(150_000_000), big.NewInt(90_000_000_000))
	if got.Int64() != 135_000_000_000 {
		t.Fatalf("got %d", got.Int64())
	}
	if MulFixed8(nil, big.NewInt(1)).Sign() != 0 {
		t.Fatal("nil operand must yield zero")
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00000001", "1.00000000", "99999999.99999999"} {
		parsed, err := ParseFixed8(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got := FormatFixed8(parsed); got != s {
			t.Fatalf("round trip %q -> %q", s, got)
		}
	}
}
