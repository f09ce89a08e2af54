package payment

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestParseOffersCurrentNaming(t *testing.T) {
	body := []byte(`{"x402Version":2,"accepts":[{"scheme":"exact","network":"solana","asset":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","amount":"250000","payTo":"CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q","maxTimeoutSeconds":60}]}`)

	offers, err := ParseOffers(body)
	if err != nil {
		t.Fatalf("Failed to parse offers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("Expected 1 offer, got %d", len(offers))
	}

	offer := offers[0]
	if offer.Amount != "250000" {
		t.Errorf("Expected amount 250000, got %s", offer.Amount)
	}
	if offer.Recipient != "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q" {
		t.Errorf("Expected payTo to become recipient, got %s", offer.Recipient)
	}
	if offer.MaxTimeoutSeconds != 60 {
		t.Errorf("Expected timeout 60, got %d", offer.MaxTimeoutSeconds)
	}
}

func TestParseOffersLegacyNaming(t *testing.T) {
	body := []byte(`{"offers":[{"network":"solana-devnet","token":"4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU","maxAmountRequired":"1000","recipient":"Dvp1m56zzPV28v86BxMnSrHKNu94mJeiohtppqQNHbqZ"}]}`)

	offers, err := ParseOffers(body)
	if err != nil {
		t.Fatalf("Failed to parse offers: %v", err)
	}

	offer := offers[0]
	if offer.Amount != "1000" {
		t.Errorf("Expected maxAmountRequired to become amount, got %s", offer.Amount)
	}
	if offer.Asset != USDCDevnetMint {
		t.Errorf("Expected token to become asset, got %s", offer.Asset)
	}
	if offer.Recipient != "Dvp1m56zzPV28v86BxMnSrHKNu94mJeiohtppqQNHbqZ" {
		t.Errorf("Expected recipient, got %s", offer.Recipient)
	}
	if offer.Scheme != "exact" {
		t.Errorf("Expected default scheme exact, got %s", offer.Scheme)
	}
}

func TestParseOffersShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
	}{
		{"bare array", `[{"network":"solana","amount":"1","payTo":"a"},{"network":"base","amount":"2","payTo":"b"}]`, 2},
		{"single object", `{"network":"solana","amount":"5","payTo":"a"}`, 1},
		{"numeric amount", `{"network":"solana","amount":250000,"payTo":"a"}`, 1},
		{"incomplete offers dropped", `{"accepts":[{"network":"solana","amount":"1"},{"network":"solana","amount":"1","payTo":"a"}]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offers, err := ParseOffers([]byte(tt.body))
			if err != nil {
				t.Fatalf("Failed to parse offers: %v", err)
			}
			if len(offers) != tt.count {
				t.Errorf("Expected %d offers, got %d", tt.count, len(offers))
			}
		})
	}
}

func TestParseOffersMissingDetails(t *testing.T) {
	bodies := []string{
		``,
		`not json`,
		`{"error":"payment required"}`,
		`{"accepts":[]}`,
		`[{"network":"solana"}]`,
	}

	for _, body := range bodies {
		if _, err := ParseOffers([]byte(body)); !errors.Is(err, ErrMissingPaymentDetails) {
			t.Errorf("Expected ErrMissingPaymentDetails for %q, got %v", body, err)
		}
	}
}

func TestDecodeOffersHeader(t *testing.T) {
	raw := `{"accepts":[{"network":"solana","asset":"SOL","amount":"1000","payTo":"CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q"}]}`

	offers, err := DecodeOffersHeader(raw)
	if err != nil {
		t.Fatalf("Failed to decode raw header: %v", err)
	}
	if offers[0].Amount != "1000" {
		t.Errorf("Expected amount 1000, got %s", offers[0].Amount)
	}

	offers, err = DecodeOffersHeader(base64.StdEncoding.EncodeToString([]byte(raw)))
	if err != nil {
		t.Fatalf("Failed to decode base64 header: %v", err)
	}
	if offers[0].Asset != "SOL" {
		t.Errorf("Expected asset SOL, got %s", offers[0].Asset)
	}

	if _, err := DecodeOffersHeader("%%%"); !errors.Is(err, ErrMissingPaymentDetails) {
		t.Errorf("Expected ErrMissingPaymentDetails, got %v", err)
	}
}

func TestEncodeOffersHeaderRoundTrip(t *testing.T) {
	in := []PaymentOffer{{
		Scheme:    "exact",
		Network:   "solana",
		Asset:     USDCMainnetMint,
		Amount:    "250000",
		Recipient: "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q",
	}}

	header, err := EncodeOffersHeader(in)
	if err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}

	out, err := DecodeOffersHeader(header)
	if err != nil {
		t.Fatalf("Failed to decode header: %v", err)
	}
	if out[0] != in[0] {
		t.Errorf("Expected %+v, got %+v", in[0], out[0])
	}
}
