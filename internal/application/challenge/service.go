package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-otc-api/internal/domain"
	"github.com/go-otc-api/internal/infrastructure/sns"
	"github.com/go-otc-api/internal/pkg/id"
	"github.com/go-otc-api/internal/pkg/otp"
)

// GenericRecoveryMessage is returned for every valid recovery request,
// whether or not the account exists.
const GenericRecoveryMessage = "If an account exists for this address, a code was sent"

// Service issues and validates one-time challenges. Issuance runs the
// flow-specific pre-checks, persists the challenge and triggers delivery;
// validation consumes a challenge exactly once.
type Service interface {
	IssueSignup(ctx context.Context, email string) error
	IssueRecovery(ctx context.Context, email string) error
	Validate(ctx context.Context, email, code string, purpose domain.Purpose) (*domain.Challenge, error)
}

type challengeStore interface {
	Put(ctx context.Context, c *domain.Challenge) error
	FindActive(ctx context.Context, email string, purpose domain.Purpose, now time.Time) (*domain.Challenge, error)
	Consume(ctx context.Context, challengeID string) (bool, error)
}

type identityStore interface {
	Exists(ctx context.Context, email string) (bool, error)
}

type mailer interface {
	SendEmail(to, subject, body string) error
}

type service struct {
	challenges      challengeStore
	accounts        identityStore
	mailer          mailer
	alerts          sns.AlertPublisher // optional
	storageTimeout  time.Duration
	deliveryTimeout time.Duration
}

type ServiceDeps struct {
	ChallengeRepo   challengeStore
	AccountRepo     identityStore
	Mailer          mailer
	Alerts          sns.AlertPublisher
	StorageTimeout  time.Duration
	DeliveryTimeout time.Duration
}

func NewService(deps ServiceDeps) Service {
	if deps.StorageTimeout <= 0 {
		deps.StorageTimeout = 5 * time.Second
	}
	if deps.DeliveryTimeout <= 0 {
		deps.DeliveryTimeout = 10 * time.Second
	}
	return &service{
		challenges:      deps.ChallengeRepo,
		accounts:        deps.AccountRepo,
		mailer:          deps.Mailer,
		alerts:          deps.Alerts,
		storageTimeout:  deps.StorageTimeout,
		deliveryTimeout: deps.DeliveryTimeout,
	}
}

// IssueSignup creates a signup-verification challenge unless the address is
// already registered. Delivery failure is swallowed: the caller still gets
// success, the failure is logged and alerted server-side only.
func (s *service) IssueSignup(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)

	exists, err := s.accountExists(ctx, email)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("issue signup challenge: %w", domain.ErrAlreadyRegistered)
	}

	c, err := s.createChallenge(ctx, email, domain.PurposeSignupVerification)
	if err != nil {
		return err
	}

	if err := s.deliver(c, "Your verification code"); err != nil {
		slog.Warn("signup code delivery failed", "email", email, "err", err)
		s.alert(ctx, "signup code delivery failed", fmt.Sprintf("email=%s err=%v", email, err))
	}
	return nil
}

// IssueRecovery creates a password-reset challenge. When no account exists it
// returns success without persisting anything, so the response does not
// reveal whether the address is registered. Unlike signup, delivery failure
// propagates: the existing account has already been committed to receiving a
// code, and silent failure would strand the user.
func (s *service) IssueRecovery(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)

	exists, err := s.accountExists(ctx, email)
	if err != nil {
		return err
	}
	if !exists {
		// Generate a code anyway so the local work matches the real path.
		_, _ = otp.New()
		return nil
	}

	c, err := s.createChallenge(ctx, email, domain.PurposePasswordReset)
	if err != nil {
		return err
	}

	if err := s.deliver(c, "Your password reset code"); err != nil {
		slog.Error("recovery code delivery failed", "email", email, "err", err)
		return fmt.Errorf("deliver recovery code: %w", domain.ErrDeliveryUnavailable)
	}
	return nil
}

// Validate selects the most recently issued live challenge for the email and
// purpose, compares the code and consumes it. Every miss — unknown, expired,
// already consumed, superseded by a newer issue, or lost consume race — comes
// back as the same ErrInvalidOrExpiredCode.
func (s *service) Validate(ctx context.Context, email, code string, purpose domain.Purpose) (*domain.Challenge, error) {
	email = domain.NormalizeEmail(email)
	now := time.Now().UTC()

	sctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	c, err := s.challenges.FindActive(sctx, email, purpose, now)
	if err != nil {
		slog.Error("challenge lookup failed", "email", email, "err", err)
		return nil, fmt.Errorf("lookup challenge: %w", domain.ErrStorageUnavailable)
	}
	if c == nil || c.Code != code || c.Expired(now) {
		return nil, fmt.Errorf("validate challenge: %w", domain.ErrInvalidOrExpiredCode)
	}

	cctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	ok, err := s.challenges.Consume(cctx, c.ChallengeID)
	if err != nil {
		slog.Error("challenge consume failed", "challenge_id", c.ChallengeID, "err", err)
		return nil, fmt.Errorf("consume challenge: %w", domain.ErrStorageUnavailable)
	}
	if !ok {
		// Lost the consume race — indistinguishable from never having found it.
		return nil, fmt.Errorf("validate challenge: %w", domain.ErrInvalidOrExpiredCode)
	}
	c.Consumed = true
	return c, nil
}

func (s *service) accountExists(ctx context.Context, email string) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	exists, err := s.accounts.Exists(sctx, email)
	if err != nil {
		slog.Error("identity store existence check failed", "email", email, "err", err)
		return false, fmt.Errorf("check account: %w", domain.ErrStorageUnavailable)
	}
	return exists, nil
}

func (s *service) createChallenge(ctx context.Context, email string, purpose domain.Purpose) (*domain.Challenge, error) {
	code, err := otp.New()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &domain.Challenge{
		ChallengeID: id.New(),
		Email:       email,
		Code:        code,
		Purpose:     purpose,
		IssuedAt:    now.UnixNano(),
		ExpiresAt:   now.Add(domain.ChallengeTTL).Unix(),
		Consumed:    false,
	}
	sctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	if err := s.challenges.Put(sctx, c); err != nil {
		slog.Error("challenge persist failed", "email", email, "purpose", purpose, "err", err)
		return nil, fmt.Errorf("persist challenge: %w", domain.ErrStorageUnavailable)
	}
	return c, nil
}

func (s *service) deliver(c *domain.Challenge, subject string) error {
	done := make(chan error, 1)
	go func() { done <- s.mailer.SendEmail(c.Email, subject, "Your code: "+c.Code) }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.deliveryTimeout):
		return fmt.Errorf("send email: %w", domain.ErrDeliveryUnavailable)
	}
}

func (s *service) alert(ctx context.Context, subject, message string) {
	if s.alerts == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryTimeout)
	defer cancel()
	if err := s.alerts.PublishAlert(actx, subject, message); err != nil {
		slog.Warn("ops alert publish failed", "subject", subject, "err", err)
	}
}
