package autopay

import (
	"encoding/json"
	"net/http"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/spending"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

// Approval is consent for one specific offer: amount, recipient and asset
type Approval struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
}

// Covers reports whether the instruction pays exactly what was approved
func (a *Approval) Covers(instruction *payment.PaymentInstruction) bool {
	if a == nil || instruction == nil {
		return false
	}
	if a.Recipient != instruction.Recipient() || a.Asset != instruction.Asset() {
		return false
	}
	cmp, err := utils.CompareDecimal(a.Amount, instruction.DecimalAmount())
	return err == nil && cmp == 0
}

// FetchResult reports everything a caller needs to retry, escalate or abort
type FetchResult struct {
	URL        string      `json:"url"`
	Success    bool        `json:"success"`
	StatusCode int         `json:"status_code,omitempty"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`

	HealthCheckPassed bool `json:"health_check_passed"`
	PaymentRequired   bool `json:"payment_required"`
	PaymentExecuted   bool `json:"payment_executed"`
	PaymentVerified   bool `json:"payment_verified"`
	NeedsUserApproval bool `json:"needs_user_approval"`

	// Decision is set when the flow stopped at a decision point rather than an error
	Decision payment.ErrorCode `json:"decision,omitempty"`

	PaymentAmount string                `json:"payment_amount,omitempty"`
	Recipient     string                `json:"recipient,omitempty"`
	Asset         string                `json:"asset,omitempty"`
	Network       string                `json:"network,omitempty"`
	Signature     string                `json:"signature,omitempty"`
	Offer         *payment.PaymentOffer `json:"offer,omitempty"`
	LimitCheck    *spending.LimitCheck  `json:"limit_check,omitempty"`

	Err error `json:"-"`
}

func (r *FetchResult) fail(err error) *FetchResult {
	r.Success = false
	r.Err = err
	return r
}

func (r *FetchResult) setResponse(resp *Response) {
	r.StatusCode = resp.StatusCode
	r.Header = resp.Header
	r.Body = resp.Body
}

func (r *FetchResult) setInstruction(instruction *payment.PaymentInstruction) {
	offer := instruction.Offer()
	r.Offer = &offer
	r.PaymentAmount = instruction.DecimalAmount()
	r.Recipient = instruction.Recipient()
	r.Asset = instruction.Asset()
	r.Network = instruction.Network()
}

// Approval returns consent for the offer this result stopped at, nil when
// the flow did not stop for approval
func (r *FetchResult) Approval() *Approval {
	if !r.NeedsUserApproval || r.PaymentAmount == "" {
		return nil
	}
	return &Approval{Amount: r.PaymentAmount, Recipient: r.Recipient, Asset: r.Asset}
}

// ErrorCode classifies Err, empty on success
func (r *FetchResult) ErrorCode() payment.ErrorCode {
	if r.Err == nil {
		return ""
	}
	return payment.CodeOf(r.Err)
}

func (r *FetchResult) MarshalJSON() ([]byte, error) {
	type Alias FetchResult
	out := struct {
		*Alias
		Error     string            `json:"error,omitempty"`
		ErrorCode payment.ErrorCode `json:"error_code,omitempty"`
		Body      string            `json:"body,omitempty"`
	}{
		Alias:     (*Alias)(r),
		ErrorCode: r.ErrorCode(),
		Body:      string(r.Body),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
