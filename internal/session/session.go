package session

import (
	"encoding/json"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
)

type Status string

const (
	StatusPreparing    Status = "preparing"
	StatusPaymentReady Status = "payment_ready"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPreparing:    {StatusPaymentReady, StatusCompleted, StatusFailed},
	StatusPaymentReady: {StatusExecuting, StatusFailed},
	StatusExecuting:    {StatusCompleted, StatusFailed, StatusPaymentReady},
	StatusFailed:       {StatusPaymentReady},
}

// CanTransition reports whether a session may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Provider is the snapshot of a discovered provider kept with the session
type Provider struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Endpoint     string   `json:"endpoint"`
	Price        string   `json:"price,omitempty"`
	Reputation   float64  `json:"reputation"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type HealthSnapshot struct {
	Healthy    bool          `json:"healthy"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	CheckedAt  time.Time     `json:"checked_at"`
	Error      string        `json:"error,omitempty"`
}

// PurchaseSession carries one two-phase purchase between its prepare,
// execute and complete calls.
type PurchaseSession struct {
	ID                 string                      `json:"id"`
	Identity           string                      `json:"identity,omitempty"`
	Status             Status                      `json:"status"`
	Provider           *Provider                   `json:"provider,omitempty"`
	Backups            []Provider                  `json:"backups,omitempty"`
	Health             *HealthSnapshot             `json:"health,omitempty"`
	Query              string                      `json:"query,omitempty"`
	Payload            json.RawMessage             `json:"payload,omitempty"`
	Instruction        *payment.PaymentInstruction `json:"instruction,omitempty"`
	Signature          string                      `json:"signature,omitempty"`
	Verified           *bool                       `json:"verified,omitempty"`
	RetryCount         int                         `json:"retry_count"`
	MaxRetries         int                         `json:"max_retries"`
	RequireHealthCheck bool                        `json:"require_health_check"`
	CreatedAt          time.Time                   `json:"created_at"`
	ExpiresAt          time.Time                   `json:"expires_at"`
	Error              string                      `json:"error,omitempty"`
}

func (s *PurchaseSession) clone() *PurchaseSession {
	c := *s
	if s.Provider != nil {
		p := *s.Provider
		c.Provider = &p
	}
	if s.Backups != nil {
		c.Backups = append([]Provider(nil), s.Backups...)
	}
	if s.Health != nil {
		h := *s.Health
		c.Health = &h
	}
	if s.Payload != nil {
		c.Payload = append(json.RawMessage(nil), s.Payload...)
	}
	if s.Verified != nil {
		v := *s.Verified
		c.Verified = &v
	}
	return &c
}

// Patch lists the fields to change; nil fields are left alone
type Patch struct {
	Status      *Status
	Provider    *Provider
	Backups     *[]Provider
	Health      *HealthSnapshot
	Query       *string
	Payload     json.RawMessage
	Instruction *payment.PaymentInstruction
	Signature   *string
	Verified    *bool
	RetryCount  *int
	Error       *string
	ExpiresAt   *time.Time
}

// onlyExpiry reports whether the patch does nothing but move ExpiresAt
func (p Patch) onlyExpiry() bool {
	return p.ExpiresAt != nil &&
		p.Status == nil && p.Provider == nil && p.Backups == nil && p.Health == nil &&
		p.Query == nil && p.Payload == nil && p.Instruction == nil && p.Signature == nil &&
		p.Verified == nil && p.RetryCount == nil && p.Error == nil
}

func (p Patch) apply(s *PurchaseSession) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Provider != nil {
		provider := *p.Provider
		s.Provider = &provider
	}
	if p.Backups != nil {
		backups := *p.Backups
		if len(backups) > MaxBackups {
			backups = backups[:MaxBackups]
		}
		s.Backups = append([]Provider(nil), backups...)
	}
	if p.Health != nil {
		health := *p.Health
		s.Health = &health
	}
	if p.Query != nil {
		s.Query = *p.Query
	}
	if p.Payload != nil {
		s.Payload = append(json.RawMessage(nil), p.Payload...)
	}
	if p.Instruction != nil {
		s.Instruction = p.Instruction
	}
	if p.Signature != nil {
		s.Signature = *p.Signature
	}
	if p.Verified != nil {
		verified := *p.Verified
		s.Verified = &verified
	}
	if p.RetryCount != nil {
		s.RetryCount = *p.RetryCount
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
	if p.ExpiresAt != nil {
		s.ExpiresAt = *p.ExpiresAt
	}
}
