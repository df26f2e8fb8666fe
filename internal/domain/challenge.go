package domain

import (
	"strings"
	"time"
)

// Purpose scopes a challenge to the flow it was issued for. A code issued for
// one purpose never validates a request for another, even on a code collision.
type Purpose string

const (
	PurposeSignupVerification Purpose = "signup_verification"
	PurposePasswordReset      Purpose = "password_reset"
)

// Challenge is a persisted, time-boxed, single-use one-time code tied to an
// email and a purpose. Rows are append-only: superseded challenges are never
// deleted, they are excluded by the validator's recency-ordered selection.
// PK: challenge_id. GSI: email-issued_at-index (hash email, range issued_at).
// ExpiresAt is a Unix timestamp and doubles as the DynamoDB TTL attribute.
type Challenge struct {
	ChallengeID string  `json:"id" dynamodbav:"challenge_id"`
	Email       string  `json:"email" dynamodbav:"email"`
	Code        string  `json:"-" dynamodbav:"code"`
	Purpose     Purpose `json:"purpose" dynamodbav:"purpose"`
	IssuedAt    int64   `json:"issued_at" dynamodbav:"issued_at"` // Unix nanos, GSI range key
	ExpiresAt   int64   `json:"expires_at" dynamodbav:"expires_at"`
	Consumed    bool    `json:"consumed" dynamodbav:"consumed"`
}

// ChallengeTTL is how long an issued code stays redeemable.
const ChallengeTTL = 10 * time.Minute

// Expired reports whether the challenge is past its expiry at the given time.
// There is no stored "expired" state; it is inferred at read time.
func (c *Challenge) Expired(now time.Time) bool {
	return c.ExpiresAt <= now.Unix()
}

// NormalizeEmail lower-cases and trims an address so that issuance and
// validation agree on the challenge key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
