package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/autopay"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/database"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/discovery"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/session"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/spending"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

var ErrInvalidState = errors.New("purchase session is not in the required state")

// Coordinator is the payment side of a purchase
type Coordinator interface {
	autopay.PaymentCoordinator
	HasSigner() bool
}

// Budget is the spending side of a purchase
type Budget interface {
	autopay.Budget
	ConfirmCharge(ctx context.Context, signature string) (bool, error)
	ChargeBySignature(ctx context.Context, signature string) (*spending.Charge, error)
}

// Service runs two-phase purchases: prepare picks and quotes a provider,
// execute pays it and complete verifies the payment and fetches the result.
type Service struct {
	sessions    *session.Store
	discoverer  discovery.Discoverer
	client      *autopay.Client
	coordinator Coordinator
	budget      Budget
	logger      *utils.LogsManager
}

func NewService(sessions *session.Store, discoverer discovery.Discoverer, client *autopay.Client, coordinator Coordinator, budget Budget, logger *utils.LogsManager) *Service {
	return &Service{
		sessions:    sessions,
		discoverer:  discoverer,
		client:      client,
		coordinator: coordinator,
		budget:      budget,
		logger:      logger,
	}
}

type PrepareRequest struct {
	Identity   string
	Capability string
	Query      string
	Payload    json.RawMessage
	MaxPrice   string
	MaxRetries int
}

type PrepareResult struct {
	SessionID   string                      `json:"session_id,omitempty"`
	Status      session.Status              `json:"status"`
	Provider    *session.Provider           `json:"provider,omitempty"`
	Backups     []session.Provider          `json:"backups,omitempty"`
	Instruction *payment.PaymentInstruction `json:"instruction,omitempty"`
	LimitCheck  *spending.LimitCheck        `json:"limit_check,omitempty"`
	ExpiresAt   time.Time                   `json:"expires_at"`

	// Result holds the response of an endpoint that did not ask for payment
	Result json.RawMessage `json:"result,omitempty"`
}

type ExecuteResult struct {
	SessionID   string                      `json:"session_id"`
	Status      session.Status              `json:"status"`
	Instruction *payment.PaymentInstruction `json:"instruction"`
	Signature   string                      `json:"signature,omitempty"`

	// Submitted is false when the payment is left to an external signer
	Submitted bool `json:"submitted"`
}

type CompleteResult struct {
	SessionID  string          `json:"session_id"`
	Status     session.Status  `json:"status"`
	Signature  string          `json:"signature"`
	Verified   bool            `json:"verified"`
	StatusCode int             `json:"status_code,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	RetryCount int             `json:"retry_count"`
}

// Prepare discovers providers, selects the best reachable one, requests it
// and, when it asks for payment, leaves a session ready for Execute.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResult, error) {
	identity := req.Identity
	if identity == "" {
		identity = autopay.DefaultIdentity
	}

	candidates, err := s.discoverer.Discover(ctx, discovery.Query{
		Capability: req.Capability,
		Text:       req.Query,
		MaxPrice:   req.MaxPrice,
		Limit:      session.MaxBackups + 1,
	})
	if err != nil {
		return nil, err
	}

	sess := s.sessions.Create(identity, session.Options{
		MaxRetries:         req.MaxRetries,
		RequireHealthCheck: true,
	})
	query := req.Query
	if _, err := s.sessions.Update(sess.ID, session.Patch{Query: &query, Payload: req.Payload}); err != nil {
		return nil, err
	}

	provider, backups, health := s.selectProvider(ctx, candidates)
	if provider == nil {
		err := payment.NewPaymentError(payment.CodeHealthCheck, payment.ErrHealthCheckFailed,
			fmt.Sprintf("none of %d providers is reachable", len(candidates)))
		s.fail(sess.ID, health, err)
		return nil, err
	}

	if _, err := s.sessions.Update(sess.ID, session.Patch{Provider: provider, Backups: &backups, Health: health}); err != nil {
		return nil, err
	}

	resp, err := s.client.Do(ctx, fetchRequest(provider, req.Payload, identity), nil)
	if err != nil {
		s.fail(sess.ID, nil, err)
		return nil, payment.NewPaymentError(payment.CodeRequestFailed, payment.ErrRequestFailed, err.Error())
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// free endpoint, nothing to pay
		if _, err := s.sessions.Transition(sess.ID, session.StatusCompleted, session.Patch{}); err != nil {
			return nil, err
		}
		s.sessions.Delete(sess.ID)
		return &PrepareResult{
			Status:   session.StatusCompleted,
			Provider: provider,
			Result:   responseJSON(resp.Body),
		}, nil
	case resp.StatusCode != http.StatusPaymentRequired:
		err := payment.NewPaymentError(payment.CodeRequestFailed, payment.ErrRequestFailed,
			fmt.Sprintf("%s answered %d", provider.Endpoint, resp.StatusCode))
		s.fail(sess.ID, nil, err)
		return nil, err
	}

	offers, err := s.client.ParseOffers(resp)
	if err != nil {
		err = payment.NewPaymentError(payment.CodeMissingDetails, payment.ErrMissingPaymentDetails, err.Error())
		s.fail(sess.ID, nil, err)
		return nil, err
	}

	instruction, err := s.coordinator.ResolveOffer(offers, provider.ID)
	if err != nil {
		s.fail(sess.ID, nil, err)
		return nil, err
	}

	check, err := s.budget.CheckLimit(ctx, identity, instruction.DecimalAmount())
	if err != nil {
		s.fail(sess.ID, nil, err)
		return nil, err
	}
	if !check.Allowed {
		err := payment.NewPaymentError(payment.CodeLimitExceeded, payment.ErrLimitExceeded, check.Reason).
			WithDetail("amount", instruction.DecimalAmount())
		s.fail(sess.ID, nil, err)
		return nil, err
	}

	ready, err := s.sessions.Transition(sess.ID, session.StatusPaymentReady, session.Patch{Instruction: instruction})
	if err != nil {
		return nil, err
	}

	s.logger.Info(fmt.Sprintf("Purchase %s ready: %s to %s via %s", ready.ID, instruction.DecimalAmount(), instruction.Recipient(), provider.ID), "purchase")

	return &PrepareResult{
		SessionID:   ready.ID,
		Status:      ready.Status,
		Provider:    ready.Provider,
		Backups:     ready.Backups,
		Instruction: instruction,
		LimitCheck:  check,
		ExpiresAt:   ready.ExpiresAt,
	}, nil
}

// selectProvider health-checks candidates in rank order and returns the
// first healthy one together with up to MaxBackups of the others.
func (s *Service) selectProvider(ctx context.Context, candidates []discovery.Candidate) (*session.Provider, []session.Provider, *session.HealthSnapshot) {
	var (
		selected *session.Provider
		health   *session.HealthSnapshot
		backups  []session.Provider
	)

	for _, c := range candidates {
		p := toProvider(c)
		if selected != nil {
			if len(backups) < session.MaxBackups {
				backups = append(backups, p)
			}
			continue
		}

		result := s.client.CheckHealth(ctx, c.Endpoint, 0)
		health = snapshot(result)
		if result.Healthy {
			selected = &p
			continue
		}
		s.logger.Warn(fmt.Sprintf("Provider %s failed health check, trying next", c.ID), "purchase")
	}

	return selected, backups, health
}

// Execute moves a ready session to executing. With a local signer the
// payment is submitted here; otherwise the instruction is returned for an
// external signer and Complete takes the resulting signature.
func (s *Service) Execute(ctx context.Context, sessionID string) (*ExecuteResult, error) {
	sess, err := s.sessions.Transition(sessionID, session.StatusExecuting, session.Patch{})
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}

	result := &ExecuteResult{
		SessionID:   sess.ID,
		Status:      sess.Status,
		Instruction: sess.Instruction,
	}
	if !s.coordinator.HasSigner() {
		return result, nil
	}

	signature, err := s.coordinator.ExecuteInstruction(ctx, sess.Instruction)
	if err != nil {
		retries := sess.RetryCount + 1
		msg := err.Error()
		to := session.StatusPaymentReady
		if retries >= sess.MaxRetries {
			to = session.StatusFailed
		}
		if _, terr := s.sessions.Transition(sess.ID, to, session.Patch{RetryCount: &retries, Error: &msg}); terr != nil {
			s.logger.Warn(fmt.Sprintf("Failed to record execution failure on %s: %v", sess.ID, terr), "purchase")
		}
		return nil, err
	}

	if _, err := s.sessions.Update(sess.ID, session.Patch{Signature: &signature}); err != nil {
		// the payment went out even though the session is gone
		return nil, payment.NewPaymentError(payment.CodeCancelledAfterPay, payment.ErrCancelledAfterPayment, err.Error()).
			WithDetail("signature", signature)
	}

	result.Signature = signature
	result.Submitted = true
	return result, nil
}

// Complete verifies the payment for an executing session, records the
// charge and calls the provider with proof. A failed verification keeps the
// session executing until its retries run out; nothing is paid again.
func (s *Service) Complete(ctx context.Context, sessionID, signature string) (*CompleteResult, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusExecuting {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, sess.ID, sess.Status)
	}

	if signature == "" {
		signature = sess.Signature
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: no signature for %s", payment.ErrInvalidSignature, sess.ID)
	}
	instruction := sess.Instruction
	if err := payment.ValidateSignature(instruction.Network(), signature); err != nil {
		return nil, err
	}

	previouslyUnverified := sess.Verified != nil && !*sess.Verified && sess.Signature == signature
	if err := s.checkSignatureUnused(ctx, sess, signature, previouslyUnverified); err != nil {
		return nil, err
	}

	verified := s.client.WaitForVerification(ctx, signature, instruction)
	if !verified {
		return s.verificationFailed(ctx, sess, signature, previouslyUnverified)
	}

	if err := s.claimCharge(ctx, sess, signature, previouslyUnverified); err != nil {
		return nil, err
	}

	yes := true
	if _, err := s.sessions.Update(sess.ID, session.Patch{Signature: &signature, Verified: &yes}); err != nil {
		return nil, err
	}

	result := &CompleteResult{
		SessionID:  sess.ID,
		Signature:  signature,
		Verified:   true,
		RetryCount: sess.RetryCount,
	}

	proof, err := s.client.IssueProof(signature, instruction)
	if err != nil {
		return nil, s.fulfillmentFailed(sess.ID, err)
	}

	resp, err := s.client.Do(ctx, fetchRequest(sess.Provider, sess.Payload, sess.Identity), proof)
	if err != nil {
		return nil, s.fulfillmentFailed(sess.ID, err)
	}
	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, s.fulfillmentFailed(sess.ID, fmt.Errorf("%s answered %d to the paid request", sess.Provider.Endpoint, resp.StatusCode))
	}

	if _, err := s.sessions.Transition(sess.ID, session.StatusCompleted, session.Patch{}); err != nil {
		return nil, err
	}
	s.sessions.Delete(sess.ID)

	result.Status = session.StatusCompleted
	result.Result = responseJSON(resp.Body)

	s.logger.Info(fmt.Sprintf("Purchase %s completed with %s", sess.ID, signature), "purchase")
	return result, nil
}

// checkSignatureUnused rejects a signature that already paid for something
// else. Only this session's own unverified attempt may be completed again.
func (s *Service) checkSignatureUnused(ctx context.Context, sess *session.PurchaseSession, signature string, ownAttempt bool) error {
	charge, err := s.budget.ChargeBySignature(ctx, signature)
	if err != nil {
		return fmt.Errorf("looking up charge %s: %w", signature, err)
	}
	if charge == nil {
		return nil
	}
	if charge.Status == database.ChargeStatusUnverified && ownAttempt &&
		charge.Identity == sess.Identity && charge.URL == sess.Provider.Endpoint {
		return nil
	}

	s.logger.Warn(fmt.Sprintf("Signature %s for purchase %s is already recorded as %s charge for %s",
		signature, sess.ID, charge.Status, charge.URL), "purchase")
	return payment.NewPaymentError(payment.CodeInvalidInput, payment.ErrSignatureAlreadyUsed, signature).
		WithDetail("session_id", sess.ID)
}

// claimCharge records the verified payment against this session. Losing the
// race to another completion with the same signature fails the purchase.
func (s *Service) claimCharge(ctx context.Context, sess *session.PurchaseSession, signature string, ownAttempt bool) error {
	if ownAttempt {
		changed, err := s.budget.ConfirmCharge(context.WithoutCancel(ctx), signature)
		if err != nil {
			return fmt.Errorf("confirming charge %s: %w", signature, err)
		}
		if !changed {
			return payment.NewPaymentError(payment.CodeInvalidInput, payment.ErrSignatureAlreadyUsed, signature).
				WithDetail("session_id", sess.ID)
		}
		return nil
	}

	if err := s.client.RecordCharge(ctx, sess.Identity, sess.Provider.Endpoint, signature, sess.Instruction, true); err != nil {
		if charge, lookupErr := s.budget.ChargeBySignature(context.WithoutCancel(ctx), signature); lookupErr == nil && charge != nil {
			return payment.NewPaymentError(payment.CodeInvalidInput, payment.ErrSignatureAlreadyUsed, signature).
				WithDetail("session_id", sess.ID)
		}
		return fmt.Errorf("recording charge %s: %w", signature, err)
	}
	return nil
}

func (s *Service) verificationFailed(ctx context.Context, sess *session.PurchaseSession, signature string, recorded bool) (*CompleteResult, error) {
	if !recorded {
		s.client.RecordCharge(ctx, sess.Identity, sess.Provider.Endpoint, signature, sess.Instruction, false)
	}

	retries := sess.RetryCount + 1
	no := false
	msg := "payment not verified on ledger"
	patch := session.Patch{Signature: &signature, Verified: &no, RetryCount: &retries, Error: &msg}

	var err error
	if retries >= sess.MaxRetries {
		_, err = s.sessions.Transition(sess.ID, session.StatusFailed, patch)
	} else {
		_, err = s.sessions.Update(sess.ID, patch)
	}
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to record verification failure on %s: %v", sess.ID, err), "purchase")
	}

	return nil, payment.NewPaymentError(payment.CodeVerification, payment.ErrVerificationFailed, msg).
		WithDetail("signature", signature).
		WithDetail("retry_count", retries).
		WithDetail("max_retries", sess.MaxRetries)
}

func (s *Service) fulfillmentFailed(id string, cause error) error {
	msg := cause.Error()
	if _, err := s.sessions.Transition(id, session.StatusFailed, session.Patch{Error: &msg}); err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to mark %s failed: %v", id, err), "purchase")
	}
	return payment.NewPaymentError(payment.CodeFulfillment, payment.ErrFulfillmentFailed, msg)
}

func (s *Service) fail(id string, health *session.HealthSnapshot, cause error) {
	msg := cause.Error()
	if _, err := s.sessions.Transition(id, session.StatusFailed, session.Patch{Health: health, Error: &msg}); err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to mark %s failed: %v", id, err), "purchase")
	}
}

// Status returns the current state of a session
func (s *Service) Status(sessionID string) (*session.PurchaseSession, error) {
	return s.sessions.Get(sessionID)
}

func fetchRequest(p *session.Provider, payload json.RawMessage, identity string) autopay.FetchRequest {
	req := autopay.FetchRequest{
		Method:   http.MethodGet,
		URL:      p.Endpoint,
		Identity: identity,
	}
	if len(payload) > 0 {
		req.Method = http.MethodPost
		req.Body = payload
		req.Header = http.Header{"Content-Type": []string{"application/json"}}
	}
	return req
}

func toProvider(c discovery.Candidate) session.Provider {
	return session.Provider{
		ID:           c.ID,
		Name:         c.Name,
		Endpoint:     c.Endpoint,
		Price:        c.Price,
		Reputation:   c.Reputation,
		Capabilities: append([]string(nil), c.Capabilities...),
	}
}

func snapshot(r autopay.HealthResult) *session.HealthSnapshot {
	h := &session.HealthSnapshot{
		Healthy:    r.Healthy,
		StatusCode: r.StatusCode,
		Latency:    r.Latency,
		CheckedAt:  r.CheckedAt,
	}
	if r.Err != nil {
		h.Error = r.Err.Error()
	}
	return h
}

// responseJSON keeps JSON bodies as they are and wraps anything else as a string
func responseJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
