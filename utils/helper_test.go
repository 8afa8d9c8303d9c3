package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Basmati Rice (5 Kg)", "basmatirice5kg"},
		{"basmati-rice 5kg", "basmatirice5kg"},
		{"  STEEL ROD 12mm ", "steelrod12mm"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRound2HalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"35617.125", "35617.13"},
		{"0.275", "0.28"},
		{"-0.275", "-0.28"},
		{"52.6575", "52.66"},
		{"10.004", "10.00"},
	}
	for _, c := range cases {
		in, _ := decimal.NewFromString(c.in)
		want, _ := decimal.NewFromString(c.want)
		if got := Round2(in); !got.Equal(want) {
			t.Errorf("Round2(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	if _, err := ParseDecimal(""); err == nil {
		t.Error("empty string should fail")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Error("non-numeric string should fail")
	}
	v, err := ParseDecimal("  55.50 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Equal(decimal.RequireFromString("55.50")) {
		t.Errorf("got %s, want 55.50", v)
	}
}
