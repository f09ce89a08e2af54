package payment

import (
	"encoding/json"
	"time"
)

// PaymentOffer is one acceptable settlement method from a 402 response,
// already normalized from whichever field naming the server used.
type PaymentOffer struct {
	Scheme            string `json:"scheme,omitempty"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	Amount            string `json:"amount"` // integer, base units
	Recipient         string `json:"recipient"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`
	Description       string `json:"description,omitempty"`
	Resource          string `json:"resource,omitempty"`
}

// PaymentInstruction is a resolved offer ready to be paid. It cannot be
// changed after ResolveOffer builds it.
type PaymentInstruction struct {
	offer         PaymentOffer
	serviceID     string
	estimatedFee  uint64
	decimals      int
	decimalAmount string
	createdAt     time.Time
}

func (pi *PaymentInstruction) Offer() PaymentOffer { return pi.offer }
func (pi *PaymentInstruction) ServiceID() string { return pi.serviceID }
func (pi *PaymentInstruction) Network() string { return pi.offer.Network }
func (pi *PaymentInstruction) Asset() string { return pi.offer.Asset }
func (pi *PaymentInstruction) Recipient() string { return pi.offer.Recipient }
func (pi *PaymentInstruction) BaseAmount() string { return pi.offer.Amount }
func (pi *PaymentInstruction) Decimals() int { return pi.decimals }
func (pi *PaymentInstruction) EstimatedFee() uint64 { return pi.estimatedFee }
func (pi *PaymentInstruction) CreatedAt() time.Time { return pi.createdAt }

// DecimalAmount is the charge in whole asset units, e.g. "0.25"
func (pi *PaymentInstruction) DecimalAmount() string { return pi.decimalAmount }

type instructionJSON struct {
	Offer         PaymentOffer `json:"offer"`
	ServiceID     string       `json:"service_id"`
	EstimatedFee  uint64       `json:"estimated_fee_lamports"`
	Decimals      int          `json:"decimals"`
	DecimalAmount string       `json:"amount"`
	CreatedAt     int64        `json:"created_at"`
}

func (pi *PaymentInstruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(instructionJSON{
		Offer:         pi.offer,
		ServiceID:     pi.serviceID,
		EstimatedFee:  pi.estimatedFee,
		Decimals:      pi.decimals,
		DecimalAmount: pi.decimalAmount,
		CreatedAt:     pi.createdAt.Unix(),
	})
}

// PaymentOutcome is the result of executing and verifying one payment
type PaymentOutcome struct {
	Signature string `json:"signature,omitempty"`
	Verified  bool   `json:"verified"`
	Amount    string `json:"amount,omitempty"`
	Err       error  `json:"-"`
}

// TxStatus is the ledger confirmation level of a transaction
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFinalized TxStatus = "finalized"
	TxStatusNotFound  TxStatus = "not_found"
)
