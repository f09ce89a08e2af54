package payment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

const DefaultProofHeader = "X-Payment-Proof"

// ProofClaims is the payload of a payment proof token
type ProofClaims struct {
	Signature string `json:"signature"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Asset     string `json:"asset,omitempty"`
	Network   string `json:"network,omitempty"`
	jwt.RegisteredClaims
}

// ProofIssuer signs and validates short-lived payment proof tokens
type ProofIssuer struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewProofIssuer(secretKey []byte, issuer string, ttl time.Duration) *ProofIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProofIssuer{
		secretKey: secretKey,
		issuer:    issuer,
		ttl:       ttl,
	}
}

// IssueProof embeds a verified settlement in a signed token
func (pi *ProofIssuer) IssueProof(signature, recipient, amount, asset, network string) (string, error) {
	now := time.Now()

	claims := ProofClaims{
		Signature: signature,
		Recipient: recipient,
		Amount:    amount,
		Asset:     asset,
		Network:   network,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        utils.HashParts(signature, recipient, amount),
			Issuer:    pi.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(pi.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(pi.secretKey)
}

func (pi *ProofIssuer) ValidateProof(tokenString string) (*ProofClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ProofClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return pi.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	claims, ok := token.Claims.(*ProofClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidProof
	}
	if claims.ID != utils.HashParts(claims.Signature, claims.Recipient, claims.Amount) {
		return nil, fmt.Errorf("%w: token id mismatch", ErrInvalidProof)
	}

	return claims, nil
}

type proofContextKey struct{}

// RequireProof rejects requests without a valid proof token with 402 and
// passes the claims on in the request context.
func (pi *ProofIssuer) RequireProof(header string, offers string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get(header)
		if tokenString == "" {
			if offers != "" {
				w.Header().Set("X-Payment-Required", offers)
			}
			http.Error(w, "Payment required", http.StatusPaymentRequired)
			return
		}

		claims, err := pi.ValidateProof(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid payment proof: %v", err), http.StatusPaymentRequired)
			return
		}

		ctx := context.WithValue(r.Context(), proofContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ProofFromContext returns the claims stored by RequireProof
func ProofFromContext(ctx context.Context) (*ProofClaims, bool) {
	claims, ok := ctx.Value(proofContextKey{}).(*ProofClaims)
	return claims, ok
}
