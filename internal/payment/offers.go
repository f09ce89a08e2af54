package payment

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// wireOffer covers both the legacy (maxAmountRequired, recipient) and the
// current (amount, payTo) x402 field names.
type wireOffer struct {
	Scheme            string     `json:"scheme"`
	Network           string     `json:"network"`
	Asset             string     `json:"asset"`
	Token             string     `json:"token"`
	Amount            flexString `json:"amount"`
	MaxAmountRequired flexString `json:"maxAmountRequired"`
	PayTo             string     `json:"payTo"`
	Recipient         string     `json:"recipient"`
	MaxTimeoutSeconds int        `json:"maxTimeoutSeconds"`
	Description       string     `json:"description"`
	Resource          string     `json:"resource"`
}

func (w wireOffer) normalize() PaymentOffer {
	offer := PaymentOffer{
		Scheme:            w.Scheme,
		Network:           strings.TrimSpace(w.Network),
		Asset:             strings.TrimSpace(w.Asset),
		Amount:            strings.TrimSpace(string(w.Amount)),
		Recipient:         strings.TrimSpace(w.PayTo),
		MaxTimeoutSeconds: w.MaxTimeoutSeconds,
		Description:       w.Description,
		Resource:          w.Resource,
	}
	if offer.Asset == "" {
		offer.Asset = strings.TrimSpace(w.Token)
	}
	if offer.Amount == "" {
		offer.Amount = strings.TrimSpace(string(w.MaxAmountRequired))
	}
	if offer.Recipient == "" {
		offer.Recipient = strings.TrimSpace(w.Recipient)
	}
	if offer.Scheme == "" {
		offer.Scheme = "exact"
	}
	return offer
}

func (w wireOffer) empty() bool {
	return w.Network == "" && w.Amount == "" && w.MaxAmountRequired == "" &&
		w.PayTo == "" && w.Recipient == ""
}

type offerEnvelope struct {
	X402Version int         `json:"x402Version"`
	Accepts     []wireOffer `json:"accepts"`
	Offers      []wireOffer `json:"offers"`
	Error       string      `json:"error"`
}

// ParseOffers reads payment offers from a JSON document. Accepted shapes are
// an envelope with an "accepts" or "offers" array, a bare array, or a single
// offer object. Offers missing an amount or recipient are dropped.
func ParseOffers(data []byte) ([]PaymentOffer, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrMissingPaymentDetails
	}

	var raw []wireOffer
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingPaymentDetails, err)
		}
	case '{':
		var env offerEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingPaymentDetails, err)
		}
		raw = append(env.Accepts, env.Offers...)
		if len(raw) == 0 {
			var single wireOffer
			if err := json.Unmarshal(data, &single); err == nil && !single.empty() {
				raw = []wireOffer{single}
			}
		}
	default:
		return nil, ErrMissingPaymentDetails
	}

	offers := make([]PaymentOffer, 0, len(raw))
	for _, w := range raw {
		offer := w.normalize()
		if offer.Amount == "" || offer.Recipient == "" {
			continue
		}
		offers = append(offers, offer)
	}

	if len(offers) == 0 {
		return nil, ErrMissingPaymentDetails
	}
	return offers, nil
}

// DecodeOffersHeader parses a payment-required header value holding either
// raw JSON or base64-encoded JSON.
func DecodeOffersHeader(value string) ([]PaymentOffer, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrMissingPaymentDetails
	}
	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		return ParseOffers([]byte(value))
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(value); err == nil {
			return ParseOffers(decoded)
		}
	}
	return nil, fmt.Errorf("%w: undecodable header value", ErrMissingPaymentDetails)
}

// EncodeOffersHeader renders offers in the current x402 field naming, base64 encoded
func EncodeOffersHeader(offers []PaymentOffer) (string, error) {
	type currentOffer struct {
		Scheme            string `json:"scheme"`
		Network           string `json:"network"`
		Asset             string `json:"asset"`
		Amount            string `json:"amount"`
		PayTo             string `json:"payTo"`
		MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
		Description       string `json:"description,omitempty"`
	}

	accepts := make([]currentOffer, 0, len(offers))
	for _, o := range offers {
		accepts = append(accepts, currentOffer{
			Scheme:            o.Scheme,
			Network:           o.Network,
			Asset:             o.Asset,
			Amount:            o.Amount,
			PayTo:             o.Recipient,
			MaxTimeoutSeconds: o.MaxTimeoutSeconds,
			Description:       o.Description,
		})
	}

	data, err := json.Marshal(map[string]interface{}{
		"x402Version": 2,
		"accepts":     accepts,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// parseBaseAmount validates a base-unit amount string as a positive integer
func parseBaseAmount(amount string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(amount), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer base-unit amount", ErrInvalidAmount, amount)
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return v, nil
}
