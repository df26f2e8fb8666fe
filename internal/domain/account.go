package domain

import "time"

// Account is the identity-store record. The table is keyed by email, which is
// what enforces system-wide email uniqueness; account_id is exposed to clients
// and resolvable through the account_id-index GSI.
type Account struct {
	Email         string    `json:"email" dynamodbav:"email"`
	AccountID     string    `json:"id" dynamodbav:"account_id"`
	PasswordHash  string    `json:"-" dynamodbav:"password_hash"`
	EmailVerified bool      `json:"email_verified" dynamodbav:"email_verified"`
	CreatedAt     time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time `json:"updated" dynamodbav:"updated_at"`
}

// Profile holds the display data created alongside an account. ProfileID is
// the account id. Creation is best-effort: a missing profile row never blocks
// or rolls back the account itself.
type Profile struct {
	ProfileID string    `json:"id" dynamodbav:"profile_id"`
	Username  string    `json:"username" dynamodbav:"username"`
	FullName  string    `json:"full_name" dynamodbav:"full_name"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
}

// MinPasswordLength is checked before any challenge work begins.
const MinPasswordLength = 6

type IssueChallengeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type CompleteSignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
}

type CompletePasswordResetRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required"`
}
