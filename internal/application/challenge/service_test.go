package challenge

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-otc-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockChallengeStore struct{ mock.Mock }

func (m *mockChallengeStore) Put(ctx context.Context, c *domain.Challenge) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockChallengeStore) FindActive(ctx context.Context, email string, purpose domain.Purpose, now time.Time) (*domain.Challenge, error) {
	args := m.Called(ctx, email, purpose, now)
	if c, _ := args.Get(0).(*domain.Challenge); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockChallengeStore) Consume(ctx context.Context, challengeID string) (bool, error) {
	args := m.Called(ctx, challengeID)
	return args.Bool(0), args.Error(1)
}

type mockIdentityStore struct{ mock.Mock }

func (m *mockIdentityStore) Exists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(to, subject, body string) error {
	return m.Called(to, subject, body).Error(0)
}

type mockAlerts struct{ mock.Mock }

func (m *mockAlerts) PublishAlert(ctx context.Context, subject, message string) error {
	return m.Called(ctx, subject, message).Error(0)
}

func newService(cs *mockChallengeStore, is *mockIdentityStore, ml *mockMailer) Service {
	return NewService(ServiceDeps{
		ChallengeRepo: cs,
		AccountRepo:   is,
		Mailer:        ml,
	})
}

// --- IssueSignup ---

func TestIssueSignup_AlreadyRegistered(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	is.On("Exists", mock.Anything, "taken@example.com").Return(true, nil)

	svc := newService(cs, is, nil)
	err := svc.IssueSignup(context.Background(), "taken@example.com")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyRegistered))
	cs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestIssueSignup_HappyPath_PersistsAndDelivers(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, "new@example.com").Return(false, nil)
	cs.On("Put", mock.Anything, mock.MatchedBy(func(c *domain.Challenge) bool {
		issued := time.Unix(0, c.IssuedAt)
		return c.Email == "new@example.com" &&
			c.Purpose == domain.PurposeSignupVerification &&
			!c.Consumed &&
			len(c.Code) == 6 &&
			c.ExpiresAt == issued.Add(10*time.Minute).Unix()
	})).Return(nil)
	ml.On("SendEmail", "new@example.com", mock.Anything, mock.Anything).Return(nil)

	svc := newService(cs, is, ml)
	require.NoError(t, svc.IssueSignup(context.Background(), "new@example.com"))
	cs.AssertExpectations(t)
	ml.AssertExpectations(t)
}

func TestIssueSignup_NormalizesEmail(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, "mixed@example.com").Return(false, nil)
	cs.On("Put", mock.Anything, mock.MatchedBy(func(c *domain.Challenge) bool {
		return c.Email == "mixed@example.com"
	})).Return(nil)
	ml.On("SendEmail", "mixed@example.com", mock.Anything, mock.Anything).Return(nil)

	svc := newService(cs, is, ml)
	require.NoError(t, svc.IssueSignup(context.Background(), "  Mixed@Example.COM "))
	cs.AssertExpectations(t)
}

func TestIssueSignup_DeliveryFailureSwallowed(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	ml := &mockMailer{}
	al := &mockAlerts{}
	is.On("Exists", mock.Anything, "new@example.com").Return(false, nil)
	cs.On("Put", mock.Anything, mock.Anything).Return(nil)
	ml.On("SendEmail", "new@example.com", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	al.On("PublishAlert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(ServiceDeps{ChallengeRepo: cs, AccountRepo: is, Mailer: ml, Alerts: al})
	err := svc.IssueSignup(context.Background(), "new@example.com")

	require.NoError(t, err)
	al.AssertExpectations(t)
}

func TestIssueSignup_PersistFailure_IsStorageUnavailable(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	is.On("Exists", mock.Anything, "new@example.com").Return(false, nil)
	cs.On("Put", mock.Anything, mock.Anything).Return(errors.New("dynamo 500"))

	svc := newService(cs, is, nil)
	err := svc.IssueSignup(context.Background(), "new@example.com")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

func TestIssueSignup_ExistenceCheckFailure_IsStorageUnavailable(t *testing.T) {
	is := &mockIdentityStore{}
	is.On("Exists", mock.Anything, mock.Anything).Return(false, errors.New("timeout"))

	svc := newService(&mockChallengeStore{}, is, nil)
	err := svc.IssueSignup(context.Background(), "new@example.com")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStorageUnavailable))
}

// --- IssueRecovery ---

func TestIssueRecovery_UnknownEmail_GenericSuccess_NoChallenge(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, "ghost@example.com").Return(false, nil)

	svc := newService(cs, is, ml)
	err := svc.IssueRecovery(context.Background(), "ghost@example.com")

	require.NoError(t, err)
	cs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	ml.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestIssueRecovery_HappyPath(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, "user@example.com").Return(true, nil)
	cs.On("Put", mock.Anything, mock.MatchedBy(func(c *domain.Challenge) bool {
		return c.Purpose == domain.PurposePasswordReset && !c.Consumed
	})).Return(nil)
	ml.On("SendEmail", "user@example.com", mock.Anything, mock.Anything).Return(nil)

	svc := newService(cs, is, ml)
	require.NoError(t, svc.IssueRecovery(context.Background(), "user@example.com"))
	cs.AssertExpectations(t)
	ml.AssertExpectations(t)
}

func TestIssueRecovery_DeliveryFailurePropagates(t *testing.T) {
	is := &mockIdentityStore{}
	cs := &mockChallengeStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, "user@example.com").Return(true, nil)
	cs.On("Put", mock.Anything, mock.Anything).Return(nil)
	ml.On("SendEmail", "user@example.com", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	svc := newService(cs, is, ml)
	err := svc.IssueRecovery(context.Background(), "user@example.com")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDeliveryUnavailable))
}

// --- Validate ---

func liveChallenge(email, code string, purpose domain.Purpose) *domain.Challenge {
	now := time.Now().UTC()
	return &domain.Challenge{
		ChallengeID: "ch1",
		Email:       email,
		Code:        code,
		Purpose:     purpose,
		IssuedAt:    now.UnixNano(),
		ExpiresAt:   now.Add(10 * time.Minute).Unix(),
	}
}

func TestValidate_NoActiveChallenge(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("FindActive", mock.Anything, "a@b.com", domain.PurposeSignupVerification, mock.Anything).Return(nil, nil)

	svc := newService(cs, nil, nil)
	_, err := svc.Validate(context.Background(), "a@b.com", "123456", domain.PurposeSignupVerification)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
}

func TestValidate_WrongCode(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("FindActive", mock.Anything, "a@b.com", domain.PurposeSignupVerification, mock.Anything).
		Return(liveChallenge("a@b.com", "654321", domain.PurposeSignupVerification), nil)

	svc := newService(cs, nil, nil)
	_, err := svc.Validate(context.Background(), "a@b.com", "123456", domain.PurposeSignupVerification)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
	cs.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything)
}

func TestValidate_PurposeScopesLookup(t *testing.T) {
	// A code issued for signup must not validate a reset request: the store
	// query is keyed on the requested purpose, so the signup row is invisible.
	cs := &mockChallengeStore{}
	cs.On("FindActive", mock.Anything, "a@b.com", domain.PurposePasswordReset, mock.Anything).Return(nil, nil)

	svc := newService(cs, nil, nil)
	_, err := svc.Validate(context.Background(), "a@b.com", "123456", domain.PurposePasswordReset)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
	cs.AssertCalled(t, "FindActive", mock.Anything, "a@b.com", domain.PurposePasswordReset, mock.Anything)
}

func TestValidate_ExpiredChallenge(t *testing.T) {
	c := liveChallenge("a@b.com", "123456", domain.PurposeSignupVerification)
	c.ExpiresAt = time.Now().Add(-time.Minute).Unix() // back-dated
	cs := &mockChallengeStore{}
	cs.On("FindActive", mock.Anything, "a@b.com", domain.PurposeSignupVerification, mock.Anything).Return(c, nil)

	svc := newService(cs, nil, nil)
	_, err := svc.Validate(context.Background(), "a@b.com", "123456", domain.PurposeSignupVerification)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
	cs.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything)
}

func TestValidate_ConsumeRaceLost(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("FindActive", mock.Anything, "a@b.com", domain.PurposeSignupVerification, mock.Anything).
		Return(liveChallenge("a@b.com", "123456", domain.PurposeSignupVerification), nil)
	cs.On("Consume", mock.Anything, "ch1").Return(false, nil)

	svc := newService(cs, nil, nil)
	_, err := svc.Validate(context.Background(), "a@b.com", "123456", domain.PurposeSignupVerification)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
}

func TestValidate_HappyPath(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("FindActive", mock.Anything, "a@b.com", domain.PurposeSignupVerification, mock.Anything).
		Return(liveChallenge("a@b.com", "123456", domain.PurposeSignupVerification), nil)
	cs.On("Consume", mock.Anything, "ch1").Return(true, nil)

	svc := newService(cs, nil, nil)
	c, err := svc.Validate(context.Background(), "A@B.com", "123456", domain.PurposeSignupVerification)

	require.NoError(t, err)
	assert.True(t, c.Consumed)
	cs.AssertExpectations(t)
}

// --- fake store: race and supersede semantics ---

// fakeChallengeStore mimics the DynamoDB repo in memory: recency-ordered
// lookup and a compare-and-set consume.
type fakeChallengeStore struct {
	mu         sync.Mutex
	challenges []*domain.Challenge
}

func (f *fakeChallengeStore) Put(_ context.Context, c *domain.Challenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.challenges = append(f.challenges, &cp)
	return nil
}

func (f *fakeChallengeStore) FindActive(_ context.Context, email string, purpose domain.Purpose, now time.Time) (*domain.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var live []*domain.Challenge
	for _, c := range f.challenges {
		if c.Email == email && c.Purpose == purpose && !c.Consumed && !c.Expired(now) {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].IssuedAt > live[j].IssuedAt })
	cp := *live[0]
	return &cp, nil
}

func (f *fakeChallengeStore) Consume(_ context.Context, challengeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.challenges {
		if c.ChallengeID == challengeID {
			if c.Consumed {
				return false, nil
			}
			c.Consumed = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChallengeStore) lastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenges[len(f.challenges)-1].Code
}

func TestValidate_ConcurrentDoubleRedemption_ExactlyOneWins(t *testing.T) {
	fs := &fakeChallengeStore{}
	is := &mockIdentityStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	ml.On("SendEmail", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(ServiceDeps{ChallengeRepo: fs, AccountRepo: is, Mailer: ml})
	require.NoError(t, svc.IssueSignup(context.Background(), "race@example.com"))
	code := fs.lastCode()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Validate(context.Background(), "race@example.com", code, domain.PurposeSignupVerification)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes, failures := 0, 0
	for err := range errs {
		if err == nil {
			successes++
		} else {
			require.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
			failures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, failures)
}

func TestValidate_ReissueSupersedesOlderCode(t *testing.T) {
	fs := &fakeChallengeStore{}
	is := &mockIdentityStore{}
	ml := &mockMailer{}
	is.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	ml.On("SendEmail", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc := NewService(ServiceDeps{ChallengeRepo: fs, AccountRepo: is, Mailer: ml})
	require.NoError(t, svc.IssueSignup(context.Background(), "resend@example.com"))
	first := fs.lastCode()
	time.Sleep(2 * time.Millisecond) // distinct issued_at ordering
	require.NoError(t, svc.IssueSignup(context.Background(), "resend@example.com"))
	second := fs.lastCode()

	if first != second {
		// The first, still-unexpired code no longer validates once superseded.
		_, err := svc.Validate(context.Background(), "resend@example.com", first, domain.PurposeSignupVerification)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidOrExpiredCode))
	}

	c, err := svc.Validate(context.Background(), "resend@example.com", second, domain.PurposeSignupVerification)
	require.NoError(t, err)
	assert.True(t, c.Consumed)
}
