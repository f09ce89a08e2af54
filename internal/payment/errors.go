package payment

import (
	"errors"
	"fmt"
)

var (
	// Protocol flow errors
	ErrHealthCheckFailed     = errors.New("endpoint health check failed")
	ErrMissingPaymentDetails = errors.New("payment required but no payment details found")
	ErrNoMatchingOffer       = errors.New("no payment offer matches the configured network")
	ErrRequestFailed         = errors.New("request failed")

	// Budget and consent errors
	ErrLimitExceeded      = errors.New("spending limit exceeded")
	ErrMaxPaymentExceeded = errors.New("payment exceeds maximum allowed amount")
	ErrApprovalRequired   = errors.New("payment requires user approval")

	// Input validation errors
	ErrInvalidAddress   = errors.New("invalid ledger address")
	ErrInvalidAmount    = errors.New("invalid payment amount")
	ErrInvalidSignature = errors.New("invalid transaction signature")
	ErrInvalidNetwork   = errors.New("invalid payment network")

	// Settlement errors
	ErrPaymentExecutionFailed = errors.New("payment execution failed")
	ErrVerificationFailed     = errors.New("payment executed but verification failed")
	ErrFulfillmentFailed      = errors.New("payment verified but fulfillment failed")
	ErrCancelledAfterPayment  = errors.New("cancelled after payment was submitted")
	ErrSignerNotConfigured    = errors.New("no payment signer configured")
	ErrSignatureAlreadyUsed   = errors.New("transaction signature already paid for another request")

	// Proof token errors
	ErrInvalidProof = errors.New("invalid payment proof")
)

// ErrorCode classifies a PaymentError for callers deciding what to do next
type ErrorCode string

const (
	CodeHealthCheck       ErrorCode = "health_check_failed"
	CodeMissingDetails    ErrorCode = "missing_payment_details"
	CodeNoMatchingOffer   ErrorCode = "no_matching_offer"
	CodeLimitExceeded     ErrorCode = "limit_exceeded"
	CodeMaxPayment        ErrorCode = "max_payment_exceeded"
	CodeApprovalRequired  ErrorCode = "approval_required"
	CodeInvalidInput      ErrorCode = "invalid_input"
	CodeExecutionFailed   ErrorCode = "payment_execution_failed"
	CodeVerification      ErrorCode = "verification_failed"
	CodeFulfillment       ErrorCode = "fulfillment_failed"
	CodeRequestFailed     ErrorCode = "request_failed"
	CodeCancelledAfterPay ErrorCode = "cancelled_after_payment"
)

// PaymentError carries the sentinel it wraps plus details such as amount,
// recipient and signature.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func NewPaymentError(code ErrorCode, err error, message string) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithDetail returns the same error with key set in Details
func (e *PaymentError) WithDetail(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf maps an error chain to its ErrorCode, empty when unknown
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}

	switch {
	case errors.Is(err, ErrHealthCheckFailed):
		return CodeHealthCheck
	case errors.Is(err, ErrMissingPaymentDetails):
		return CodeMissingDetails
	case errors.Is(err, ErrNoMatchingOffer):
		return CodeNoMatchingOffer
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ErrMaxPaymentExceeded):
		return CodeMaxPayment
	case errors.Is(err, ErrApprovalRequired):
		return CodeApprovalRequired
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrSignatureAlreadyUsed):
		return CodeInvalidInput
	case errors.Is(err, ErrPaymentExecutionFailed):
		return CodeExecutionFailed
	case errors.Is(err, ErrVerificationFailed):
		return CodeVerification
	case errors.Is(err, ErrFulfillmentFailed):
		return CodeFulfillment
	case errors.Is(err, ErrRequestFailed):
		return CodeRequestFailed
	case errors.Is(err, ErrCancelledAfterPayment):
		return CodeCancelledAfterPay
	}
	return ""
}
