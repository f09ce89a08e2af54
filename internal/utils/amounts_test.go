package utils

import "testing"

func TestFormatBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"250000", 6, "0.25"},
		{"1000000", 6, "1.00"},
		{"1", 6, "0.000001"},
		{"0", 6, "0.00"},
		{"1500000000", 9, "1.50"},
		{"123", 0, "123.00"},
		{"50000", 6, "0.05"},
	}

	for _, tt := range tests {
		got, err := FormatBaseUnits(tt.amount, tt.decimals)
		if err != nil {
			t.Errorf("FormatBaseUnits(%s, %d) failed: %v", tt.amount, tt.decimals, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatBaseUnits(%s, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}

	for _, bad := range []string{"", "-5", "1.5", "0x10", "12a"} {
		if _, err := FormatBaseUnits(bad, 6); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestDecimalConversions(t *testing.T) {
	units, err := DecimalToBaseUnits("0.25", 6)
	if err != nil || units.String() != "250000" {
		t.Errorf("Expected 250000, got %v %v", units, err)
	}
	if _, err := DecimalToBaseUnits("0.0000001", 6); err == nil {
		t.Error("Expected too many decimal places to be rejected")
	}

	micros, err := DecimalToMicros("1.5")
	if err != nil || micros != 1_500_000 {
		t.Errorf("Expected 1500000, got %d %v", micros, err)
	}
	// rounds up so the governor never under-counts
	micros, err = DecimalToMicros("0.0000001")
	if err != nil || micros != 1 {
		t.Errorf("Expected 1, got %d %v", micros, err)
	}

	if got := MicrosToDecimal(10_000_000); got != "10.00" {
		t.Errorf("Expected 10.00, got %s", got)
	}

	if _, err := ParseDecimal("1e5"); err == nil {
		t.Error("Expected exponent notation to be rejected")
	}
	if _, err := ParseDecimal("-1"); err == nil {
		t.Error("Expected negative amount to be rejected")
	}
}

func TestCompareDecimal(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.25", "0.250", 0},
		{"0.10", "0.25", -1},
		{"10", "9.999999", 1},
	}

	for _, tt := range tests {
		got, err := CompareDecimal(tt.a, tt.b)
		if err != nil {
			t.Fatalf("CompareDecimal(%s, %s) failed: %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("CompareDecimal(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := CompareDecimal("abc", "1"); err == nil {
		t.Error("Expected invalid input to be rejected")
	}
}
