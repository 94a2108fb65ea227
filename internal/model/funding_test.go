package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAnnualizedRate(t *testing.T) {
	cases := []struct {
		name        string
		rate        string
		periodHours int
		want        string
	}{
		{"hourly", "0.0001", 1, "87.6"},
		{"eight_hour", "0.0001", 8, "10.95"},
		{"eight_hour_large", "0.05", 8, "5475"},
		{"negative", "-0.0002", 8, "-21.9"},
		{"zero_period_treated_hourly", "0.0001", 0, "87.6"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, err := decimal.NewFromString(tc.rate)
			if err != nil {
				t.Fatalf("parse rate: %v", err)
			}
			want, err := decimal.NewFromString(tc.want)
			if err != nil {
				t.Fatalf("parse want: %v", err)
			}
			got := AnnualizedRate(rate, tc.periodHours)
			if !got.Equal(want) {
				t.Fatalf("AnnualizedRate(%s, %d) = %s, want %s", tc.rate, tc.periodHours, got, want)
			}
		})
	}
}

func TestAnnualizedRateRoundTrip(t *testing.T) {
	// apr / ((24/period) * 365 * 100) must give the original rate back
	// exactly; decimal arithmetic must not lose precision.
	rate := decimal.RequireFromString("0.0000125")
	apr := AnnualizedRate(rate, 8)
	periods := decimal.NewFromInt(3).Mul(decimal.NewFromInt(365)).Mul(decimal.NewFromInt(100))
	back := apr.Div(periods)
	if !back.Equal(rate) {
		t.Fatalf("round trip: got %s, want %s", back, rate)
	}
}

func TestNewStreamKey(t *testing.T) {
	a := NewStreamKey("Binance", "BTCUSDT")
	b := NewStreamKey(" binance", "btcusdt ")
	if a != b {
		t.Fatalf("keys differ: %v vs %v", a, b)
	}
	if a.String() != "binance:btcusdt" {
		t.Fatalf("unexpected key string %q", a.String())
	}
}
