package autopay

import "time"

type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent is passed to the payment callbacks
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time
	URL       string
	Amount    string
	Asset     string
	Network   string
	Recipient string
	Signature string
	Error     error
}

type PaymentCallback func(PaymentEvent)

type Callbacks struct {
	OnPaymentAttempt PaymentCallback
	OnPaymentSuccess PaymentCallback
	OnPaymentFailure PaymentCallback
}

func (cb Callbacks) emit(event PaymentEvent) {
	event.Timestamp = time.Now()

	var fn PaymentCallback
	switch event.Type {
	case PaymentEventAttempt:
		fn = cb.OnPaymentAttempt
	case PaymentEventSuccess:
		fn = cb.OnPaymentSuccess
	case PaymentEventFailure:
		fn = cb.OnPaymentFailure
	}
	if fn != nil {
		fn(event)
	}
}
