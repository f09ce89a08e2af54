package autopay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/database"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/spending"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

const (
	DefaultIdentity  = "default"
	maxResponseBytes = 10 << 20
)

// PaymentCoordinator is the part of payment.Coordinator the client drives
type PaymentCoordinator interface {
	Network() string
	ResolveOffer(offers []payment.PaymentOffer, serviceID string) (*payment.PaymentInstruction, error)
	ExecuteInstruction(ctx context.Context, instruction *payment.PaymentInstruction) (string, error)
	VerifyTransaction(ctx context.Context, signature, expectedRecipient, expectedAmount, asset string) bool
}

// Budget is the part of spending.Governor the client consults
type Budget interface {
	CheckLimit(ctx context.Context, identity string, proposed string) (*spending.LimitCheck, error)
	RecordCharge(ctx context.Context, charge *spending.Charge) error
}

type Client struct {
	coordinator PaymentCoordinator
	budget      Budget
	proofs      *payment.ProofIssuer
	httpClient  *http.Client
	callbacks   Callbacks
	logger      *utils.LogsManager

	healthCheckTimeout time.Duration
	requestTimeout     time.Duration
	verifyAttempts     int
	verifyInterval     time.Duration
	defaultThreshold   string
	defaultMaxPayment  string
	offersHeader       string
	proofHeader        string
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithCallbacks(callbacks Callbacks) ClientOption {
	return func(c *Client) {
		c.callbacks = callbacks
	}
}

func NewClient(cm *utils.ConfigManager, coordinator PaymentCoordinator, budget Budget, proofs *payment.ProofIssuer, logger *utils.LogsManager, opts ...ClientOption) *Client {
	c := &Client{
		coordinator:        coordinator,
		budget:             budget,
		proofs:             proofs,
		httpClient:         &http.Client{},
		logger:             logger,
		healthCheckTimeout: cm.GetConfigDuration("health_check_timeout", 5*time.Second),
		requestTimeout:     cm.GetConfigDuration("request_timeout", 30*time.Second),
		verifyAttempts:     cm.GetConfigInt("verify_attempts", 10, 1, 100),
		verifyInterval:     cm.GetConfigDuration("verify_interval", 2*time.Second),
		defaultThreshold:   cm.GetConfigWithDefault("autopay_threshold", "0.10"),
		defaultMaxPayment:  cm.GetConfigWithDefault("autopay_max_payment", "1.00"),
		offersHeader:       cm.GetConfigWithDefault("payment_required_header", "X-Payment-Required"),
		proofHeader:        cm.GetConfigWithDefault("payment_proof_header", payment.DefaultProofHeader),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchRequest describes one possibly-paid request
type FetchRequest struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Identity string

	// ServiceID names the resource on the resolved instruction; defaults to URL
	ServiceID string

	// MaxPayment is an absolute ceiling; above it nothing is paid
	MaxPayment string

	// AutopayThreshold is the largest amount paid without approval
	AutopayThreshold string

	// Approval skips the threshold gate only for the exact offer the caller consented to
	Approval *Approval

	HealthCheckTimeout time.Duration
	RequestTimeout     time.Duration
}

// Response is a finished HTTP exchange
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends the request once with extra headers added, accepting any status
func (c *Client) Do(ctx context.Context, req FetchRequest, extra http.Header) (*Response, error) {
	timeout := req.RequestTimeout
	if timeout <= 0 {
		timeout = c.requestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrRequestFailed, err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	for k, values := range extra {
		for _, v := range values {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", payment.ErrRequestFailed, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// ParseOffers reads 402 offers from the payment-required header, then the body
func (c *Client) ParseOffers(resp *Response) ([]payment.PaymentOffer, error) {
	if value := resp.Header.Get(c.offersHeader); value != "" {
		offers, err := payment.DecodeOffersHeader(value)
		if err == nil {
			return offers, nil
		}
		c.logger.Debug(fmt.Sprintf("Ignoring unparseable %s header: %v", c.offersHeader, err), "autopay")
	}
	return payment.ParseOffers(resp.Body)
}

// WaitForVerification polls the ledger until the payment verifies, attempts
// run out or ctx is done.
func (c *Client) WaitForVerification(ctx context.Context, signature string, instruction *payment.PaymentInstruction) bool {
	for attempt := 1; attempt <= c.verifyAttempts; attempt++ {
		if c.coordinator.VerifyTransaction(ctx, signature, instruction.Recipient(), instruction.BaseAmount(), instruction.Asset()) {
			return true
		}
		if attempt == c.verifyAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.verifyInterval):
		}
	}
	return false
}

// RecordCharge stores the executed payment. Failures are logged and returned.
func (c *Client) RecordCharge(ctx context.Context, identity, url, signature string, instruction *payment.PaymentInstruction, verified bool) error {
	micros, err := utils.DecimalToMicros(instruction.DecimalAmount())
	if err != nil {
		c.logger.Error(fmt.Sprintf("Cannot record charge %s: %v", signature, err), "autopay")
		return err
	}

	status := database.ChargeStatusUnverified
	if verified {
		status = database.ChargeStatusCompleted
	}

	charge := &spending.Charge{
		Identity:     identity,
		Signature:    signature,
		Network:      instruction.Network(),
		Asset:        instruction.Asset(),
		Recipient:    instruction.Recipient(),
		AmountMicros: micros,
		BaseAmount:   instruction.BaseAmount(),
		Status:       status,
		URL:          url,
	}
	if err := c.budget.RecordCharge(context.WithoutCancel(ctx), charge); err != nil {
		c.logger.Error(fmt.Sprintf("Failed to record charge %s: %v", signature, err), "autopay")
		return err
	}
	return nil
}

// IssueProof builds the proof header for a verified payment
func (c *Client) IssueProof(signature string, instruction *payment.PaymentInstruction) (http.Header, error) {
	token, err := c.proofs.IssueProof(signature, instruction.Recipient(), instruction.BaseAmount(), instruction.Asset(), instruction.Network())
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set(c.proofHeader, token)
	return header, nil
}

// FetchWithAutopay runs health check, request, payment decision, payment,
// verification and the proof retry for one request. At most one payment is
// submitted and at most one retry is sent.
func (c *Client) FetchWithAutopay(ctx context.Context, req FetchRequest) *FetchResult {
	result := &FetchResult{URL: req.URL}

	identity := req.Identity
	if identity == "" {
		identity = DefaultIdentity
	}
	serviceID := req.ServiceID
	if serviceID == "" {
		serviceID = req.URL
	}

	health := c.CheckHealth(ctx, req.URL, req.HealthCheckTimeout)
	result.HealthCheckPassed = health.Healthy
	if !health.Healthy {
		return result.fail(payment.NewPaymentError(payment.CodeHealthCheck, payment.ErrHealthCheckFailed, errString(health.Err)).
			WithDetail("status_code", health.StatusCode))
	}

	resp, err := c.Do(ctx, req, nil)
	if err != nil {
		return result.fail(payment.NewPaymentError(payment.CodeRequestFailed, payment.ErrRequestFailed, err.Error()))
	}
	result.setResponse(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Success = true
		return result
	case resp.StatusCode != http.StatusPaymentRequired:
		return result.fail(payment.NewPaymentError(payment.CodeRequestFailed, payment.ErrRequestFailed,
			fmt.Sprintf("status %d", resp.StatusCode)))
	}

	result.PaymentRequired = true

	offers, err := c.ParseOffers(resp)
	if err != nil {
		return result.fail(payment.NewPaymentError(payment.CodeMissingDetails, payment.ErrMissingPaymentDetails, err.Error()))
	}

	instruction, err := c.coordinator.ResolveOffer(offers, serviceID)
	if err != nil {
		return result.fail(err)
	}
	result.setInstruction(instruction)

	if decided := c.decide(ctx, req, identity, instruction, result); decided {
		return result
	}

	if err := ctx.Err(); err != nil {
		return result.fail(fmt.Errorf("cancelled before payment: %w", err))
	}

	event := PaymentEvent{
		URL:       req.URL,
		Amount:    instruction.DecimalAmount(),
		Asset:     instruction.Asset(),
		Network:   instruction.Network(),
		Recipient: instruction.Recipient(),
	}
	c.emit(PaymentEventAttempt, event)

	signature, err := c.coordinator.ExecuteInstruction(ctx, instruction)
	if err != nil {
		event.Error = err
		c.emit(PaymentEventFailure, event)
		return result.fail(err)
	}
	result.PaymentExecuted = true
	result.Signature = signature
	event.Signature = signature

	c.logger.Info(fmt.Sprintf("Paid %s to %s for %s: %s", instruction.DecimalAmount(), instruction.Recipient(), req.URL, signature), "autopay")

	verified := c.WaitForVerification(ctx, signature, instruction)
	c.RecordCharge(ctx, identity, req.URL, signature, instruction, verified)

	if !verified {
		if ctx.Err() != nil {
			event.Error = payment.ErrCancelledAfterPayment
			c.emit(PaymentEventFailure, event)
			return result.fail(payment.NewPaymentError(payment.CodeCancelledAfterPay, payment.ErrCancelledAfterPayment,
				"verification skipped").WithDetail("signature", signature))
		}

		err := payment.NewPaymentError(payment.CodeVerification, payment.ErrVerificationFailed,
			"settlement not confirmed on ledger; content not released").
			WithDetail("signature", signature).
			WithDetail("amount", instruction.DecimalAmount()).
			WithDetail("recipient", instruction.Recipient())
		event.Error = err
		c.emit(PaymentEventFailure, event)
		return result.fail(err)
	}
	result.PaymentVerified = true

	if err := ctx.Err(); err != nil {
		return result.fail(payment.NewPaymentError(payment.CodeCancelledAfterPay, payment.ErrCancelledAfterPayment,
			"retry skipped").WithDetail("signature", signature))
	}

	proof, err := c.IssueProof(signature, instruction)
	if err != nil {
		return result.fail(payment.NewPaymentError(payment.CodeFulfillment, payment.ErrFulfillmentFailed, err.Error()))
	}

	retry, err := c.Do(ctx, req, proof)
	if err != nil {
		event.Error = err
		c.emit(PaymentEventFailure, event)
		return result.fail(payment.NewPaymentError(payment.CodeFulfillment, payment.ErrFulfillmentFailed, err.Error()).
			WithDetail("signature", signature))
	}
	result.setResponse(retry)

	if retry.StatusCode < 200 || retry.StatusCode >= 300 {
		err := payment.NewPaymentError(payment.CodeFulfillment, payment.ErrFulfillmentFailed,
			fmt.Sprintf("retry with proof answered %d", retry.StatusCode)).
			WithDetail("signature", signature)
		event.Error = err
		c.emit(PaymentEventFailure, event)
		return result.fail(err)
	}

	c.emit(PaymentEventSuccess, event)
	result.Success = true
	return result
}

// decide applies the governor, the absolute ceiling and the approval
// threshold. It returns true when the flow must stop without paying.
func (c *Client) decide(ctx context.Context, req FetchRequest, identity string, instruction *payment.PaymentInstruction, result *FetchResult) bool {
	amount := instruction.DecimalAmount()

	check, err := c.budget.CheckLimit(ctx, identity, amount)
	if err != nil {
		result.fail(payment.NewPaymentError(payment.CodeLimitExceeded, payment.ErrLimitExceeded,
			fmt.Sprintf("limit check failed: %v", err)))
		return true
	}
	result.LimitCheck = check
	if !check.Allowed {
		result.fail(payment.NewPaymentError(payment.CodeLimitExceeded, payment.ErrLimitExceeded, check.Reason).
			WithDetail("amount", amount))
		return true
	}

	maxPayment := req.MaxPayment
	if maxPayment == "" {
		maxPayment = c.defaultMaxPayment
	}
	cmp, err := utils.CompareDecimal(amount, maxPayment)
	if err != nil {
		result.fail(fmt.Errorf("%w: max payment %q: %v", payment.ErrInvalidAmount, maxPayment, err))
		return true
	}
	if cmp > 0 {
		result.fail(payment.NewPaymentError(payment.CodeMaxPayment, payment.ErrMaxPaymentExceeded,
			fmt.Sprintf("%s exceeds maximum of %s", amount, maxPayment)).WithDetail("amount", amount))
		return true
	}

	if req.Approval != nil {
		if req.Approval.Covers(instruction) {
			return false
		}
		c.logger.Warn(fmt.Sprintf("Approval for %s to %s does not match offer of %s to %s, applying threshold",
			req.Approval.Amount, req.Approval.Recipient, amount, instruction.Recipient()), "autopay")
	}

	threshold := req.AutopayThreshold
	if threshold == "" {
		threshold = c.defaultThreshold
	}
	cmp, err = utils.CompareDecimal(amount, threshold)
	if err != nil {
		result.fail(fmt.Errorf("%w: autopay threshold %q: %v", payment.ErrInvalidAmount, threshold, err))
		return true
	}
	if cmp > 0 {
		result.NeedsUserApproval = true
		result.Decision = payment.CodeApprovalRequired
		c.logger.Info(fmt.Sprintf("Payment of %s for %s above threshold %s, asking for approval", amount, req.URL, threshold), "autopay")
		return true
	}

	return false
}

func (c *Client) emit(t PaymentEventType, event PaymentEvent) {
	event.Type = t
	c.callbacks.emit(event)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return err.Error()
}
