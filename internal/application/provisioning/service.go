package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-otc-api/internal/domain"
	"github.com/go-otc-api/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

// Service performs the privileged operations gated behind a consumed
// challenge: account+profile creation and credential rotation.
type Service interface {
	CompleteSignup(ctx context.Context, req domain.CompleteSignupRequest) (*SignupResult, error)
	CompletePasswordReset(ctx context.Context, req domain.CompletePasswordResetRequest) error
}

// SignupResult is what a completed signup hands back to the client.
// AccessToken is empty when no token signer is configured.
type SignupResult struct {
	AccountID   string
	AccessToken string
}

type validator interface {
	Validate(ctx context.Context, email, code string, purpose domain.Purpose) (*domain.Challenge, error)
}

type accountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}

type profileStore interface {
	Put(ctx context.Context, p *domain.Profile) error
}

type tokenSigner interface {
	Sign(accountID, email string) (string, error)
}

type service struct {
	challenges     validator
	accounts       accountStore
	profiles       profileStore
	signer         tokenSigner // optional
	storageTimeout time.Duration
}

type ServiceDeps struct {
	Validator      validator
	AccountRepo    accountStore
	ProfileRepo    profileStore
	TokenSigner    tokenSigner
	StorageTimeout time.Duration
}

func NewService(deps ServiceDeps) Service {
	if deps.StorageTimeout <= 0 {
		deps.StorageTimeout = 5 * time.Second
	}
	return &service{
		challenges:     deps.Validator,
		accounts:       deps.AccountRepo,
		profiles:       deps.ProfileRepo,
		signer:         deps.TokenSigner,
		storageTimeout: deps.StorageTimeout,
	}
}

// CompleteSignup consumes a signup-verification challenge and creates the
// account and its profile. The account write is conditional on the email
// still being free, closing the window between issuance-time and
// completion-time existence checks. The account is created with the email
// already verified — the consumed code is the verification.
func (s *service) CompleteSignup(ctx context.Context, req domain.CompleteSignupRequest) (*SignupResult, error) {
	if len(req.Password) < domain.MinPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters: %w", domain.MinPasswordLength, domain.ErrWeakCredential)
	}

	if _, err := s.challenges.Validate(ctx, req.Email, req.Code, domain.PurposeSignupVerification); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a := &domain.Account{
		Email:         domain.NormalizeEmail(req.Email),
		AccountID:     id.New(),
		PasswordHash:  string(hash),
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Once issued, the create runs to completion even if the caller goes
	// away; an aborted half-provisioned identity is worse than a slow one.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()
	if err := s.accounts.Create(cctx, a); err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			return nil, err
		}
		slog.Error("account create failed", "email", a.Email, "err", err)
		return nil, fmt.Errorf("create account: %w", domain.ErrStorageUnavailable)
	}

	// Best-effort: the account is usable without a profile row, and rolling
	// back the account here would be worse than the missing row.
	p := &domain.Profile{
		ProfileID: a.AccountID,
		Username:  req.Username,
		FullName:  req.FullName,
		CreatedAt: now,
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()
	if err := s.profiles.Put(pctx, p); err != nil {
		slog.Warn("profile create failed after account create", "account_id", a.AccountID, "err", err)
	}

	result := &SignupResult{AccountID: a.AccountID}
	if s.signer != nil {
		token, err := s.signer.Sign(a.AccountID, a.Email)
		if err != nil {
			slog.Warn("access token signing failed", "account_id", a.AccountID, "err", err)
		} else {
			result.AccessToken = token
		}
	}
	return result, nil
}

// CompletePasswordReset consumes a password-reset challenge and rotates the
// credential. A missing account is reported as such — the caller has already
// proven mailbox control by presenting a valid code, so there is nothing left
// to hide.
func (s *service) CompletePasswordReset(ctx context.Context, req domain.CompletePasswordResetRequest) error {
	if len(req.NewPassword) < domain.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters: %w", domain.MinPasswordLength, domain.ErrWeakCredential)
	}

	if _, err := s.challenges.Validate(ctx, req.Email, req.Code, domain.PurposePasswordReset); err != nil {
		return err
	}

	email := domain.NormalizeEmail(req.Email)
	gctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	a, err := s.accounts.GetByEmail(gctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return err
		}
		slog.Error("account lookup failed", "email", email, "err", err)
		return fmt.Errorf("lookup account: %w", domain.ErrStorageUnavailable)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storageTimeout)
	defer cancel()
	if err := s.accounts.UpdatePassword(uctx, a.Email, string(hash)); err != nil {
		slog.Error("password update failed", "email", a.Email, "err", err)
		return fmt.Errorf("update password: %w", domain.ErrStorageUnavailable)
	}
	return nil
}
