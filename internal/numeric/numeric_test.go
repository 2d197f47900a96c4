package numeric

import "testing"

func TestExponentPerCurrency(t *testing.T) {
	cases := map[string]int32{
		"BTC": 8,
		"JPY": 3,
		"SEK": 3,
		"USD": 5,
		"EUR": 5,
	}
	for currency, want := range cases {
		if got := Exponent(currency); got != want {
			t.Errorf("Exponent(%q): got %d want %d", currency, got, want)
		}
	}
}

func TestFromFloatTruncatesTowardZero(t *testing.T) {
	if got := FromFloat(123.456789, "USD"); got != 12345678 {
		t.Fatalf("FromFloat: got %d want 12345678", got)
	}
	if got := FromFloat(1.5, "BTC"); got != 150000000 {
		t.Fatalf("FromFloat BTC: got %d want 150000000", got)
	}
}

func TestFormatRendersFixedScale(t *testing.T) {
	if got := Format(12345678, "USD"); got != "123.45678" {
		t.Fatalf("Format USD: got %q", got)
	}
	if got := Format(150000000, "BTC"); got != "1.50000000" {
		t.Fatalf("Format BTC: got %q", got)
	}
}

func TestValueMultipliesVolumeByPrice(t *testing.T) {
	// 2 BTC at 100.00000 USD is 200.00000 USD of quote value.
	if got := Value(200000000, 10000000, "USD"); got != 20000000 {
		t.Fatalf("Value: got %d want 20000000", got)
	}
}

func TestRoundTripThroughDecimal(t *testing.T) {
	const amount = 987654321
	if got := FromDecimal(ToDecimal(amount, "USD"), "USD"); got != amount {
		t.Fatalf("round trip: got %d want %d", got, amount)
	}
}
