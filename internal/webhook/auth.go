package webhook

import (
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
)

// triggerSubject is the required subject of trigger tokens
const triggerSubject = "reconcile"

// TriggerVerifier checks HS256 bearer tokens on the trigger endpoint
type TriggerVerifier struct {
	secret []byte
}

// NewTriggerVerifier builds a verifier for secret
func NewTriggerVerifier(secret string) *TriggerVerifier {
	return &TriggerVerifier{secret: []byte(secret)}
}

// IssueToken signs a trigger token valid for ttl. Schedulers use it to
// mint the bearer they send.
func (v *TriggerVerifier) IssueToken(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   triggerSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify validates the Authorization header value
func (v *TriggerVerifier) Verify(header string) error {
	if len(v.secret) == 0 {
		return apperrors.NewError(apperrors.ErrUnauthorizedTrigger, "trigger verification enabled but no secret configured")
	}

	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return apperrors.NewError(apperrors.ErrUnauthorizedTrigger, "missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return apperrors.NewErrorWithCause(apperrors.ErrUnauthorizedTrigger, "invalid trigger token", err)
	}
	if !parsed.Valid || claims.Subject != triggerSubject {
		return apperrors.NewError(apperrors.ErrUnauthorizedTrigger, "invalid trigger token claims")
	}
	return nil
}
