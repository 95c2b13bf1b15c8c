package amount

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1.25", 6, "1250000"},
		{"0.5", 18, "500000000000000000"},
		{"42", 0, "42"},
		{"0", 18, "0"},
		{"0.000001", 6, "1"},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("Parse(%q, %d) failed: %v", tc.in, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("Parse(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.2.3", "1,5"} {
		if _, err := Parse(in, 6); err == nil {
			t.Fatalf("Parse(%q) should fail", in)
		}
	}
	// More fractional digits than the token supports.
	if _, err := Parse("1.1234567", 6); err == nil {
		t.Fatal("expected precision error")
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		in       *big.Int
		decimals int
		want     string
	}{
		{big.NewInt(1_250_000), 6, "1.25"},
		{big.NewInt(1), 6, "0.000001"},
		{big.NewInt(42), 0, "42"},
		{nil, 6, "0"},
	}
	for _, tc := range cases {
		if got := Format(tc.in, tc.decimals); got != tc.want {
			t.Fatalf("Format(%v, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}
