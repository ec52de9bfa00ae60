package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/loanguard/internal/models"
	"github.com/BradenHooton/loanguard/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "user:user123:account_unlock"

func newTestCodeService(clock *fakeClock) (*SecretCodeService, *memCodeRepo, *MockNotifier) {
	repo := &memCodeRepo{}
	notifier := newMockNotifier()
	svc := NewSecretCodeService(repo, notifier, nil, nil, testLogger(), SecretCodeConfig{
		HashCost: 4,
		Clock:    clock.Now,
	})
	return svc, repo, notifier
}

func TestSecretCodeService_Issue_Success(t *testing.T) {
	clock := newFakeClock()
	svc, repo, notifier := newTestCodeService(clock)

	issued, err := svc.Issue(context.Background(), testSubject, "user@example.com", models.UnlockPolicy(3))

	require.NoError(t, err)
	assert.True(t, auth.Matches(models.UnlockPolicy(3).Alphabet, issued.Plaintext))
	assert.Equal(t, clock.Now().Add(time.Hour), issued.Record.ExpiresAt)
	assert.Equal(t, 3, issued.Record.RemainingAttempts)

	stored := repo.Get(issued.Record.ID)
	require.NotNil(t, stored)
	assert.NotEqual(t, issued.Plaintext, stored.CodeHash, "plaintext must never be stored")
	assert.True(t, auth.CompareCode(stored.CodeHash, issued.Plaintext))

	sent, ok := notifier.Next(NotifyUnlockCode, time.Second)
	require.True(t, ok, "unlock code notification should be sent")
	assert.Equal(t, "user@example.com", sent.Recipient)
	assert.Equal(t, issued.Plaintext, sent.Payload["code"])
}

func TestSecretCodeService_Issue_InvalidInput(t *testing.T) {
	svc, _, _ := newTestCodeService(newFakeClock())

	_, err := svc.Issue(context.Background(), "", "user@example.com", models.UnlockPolicy(3))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	broken := models.VerificationPolicy()
	broken.TTL = 0
	_, err = svc.Issue(context.Background(), testSubject, "user@example.com", broken)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSecretCodeService_Issue_SupersedesPriorCode(t *testing.T) {
	svc, repo, _ := newTestCodeService(newFakeClock())
	ctx := context.Background()

	first, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)
	second, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)

	assert.NotNil(t, repo.Get(first.Record.ID).SupersededAt)
	if first.Plaintext != second.Plaintext {
		_, err = svc.Validate(ctx, testSubject, first.Plaintext)
		assert.ErrorIs(t, err, models.ErrInvalidCode, "superseded code must not validate")
	}

	code, err := svc.Validate(ctx, testSubject, second.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, second.Record.ID, code.ID)
}

func TestSecretCodeService_Issue_NotificationFailureIsIgnored(t *testing.T) {
	clock := newFakeClock()
	svc, _, notifier := newTestCodeService(clock)
	notifier.NotifyFunc = func(ctx context.Context, kind NotificationType, recipient string, payload NotificationPayload) error {
		return errors.New("smtp down")
	}

	issued, err := svc.Issue(context.Background(), testSubject, "user@example.com", models.UnlockPolicy(3))

	require.NoError(t, err)
	_, ok := notifier.Next(NotifyUnlockCode, time.Second)
	assert.True(t, ok)

	_, err = svc.Validate(context.Background(), testSubject, issued.Plaintext)
	assert.NoError(t, err)
}

func TestSecretCodeService_Validate_NotFound(t *testing.T) {
	svc, _, _ := newTestCodeService(newFakeClock())

	_, err := svc.Validate(context.Background(), testSubject, "ABCDEF12")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSecretCodeService_Validate_InvalidInput(t *testing.T) {
	svc, _, _ := newTestCodeService(newFakeClock())

	_, err := svc.Validate(context.Background(), testSubject, "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.Validate(context.Background(), "", "ABCDEF12")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSecretCodeService_Validate_SingleUse(t *testing.T) {
	svc, repo, _ := newTestCodeService(newFakeClock())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)

	_, err = svc.Validate(ctx, testSubject, issued.Plaintext)
	require.NoError(t, err)
	assert.True(t, repo.Get(issued.Record.ID).Consumed)

	_, err = svc.Validate(ctx, testSubject, issued.Plaintext)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSecretCodeService_Validate_TemporaryPasswordIsReusable(t *testing.T) {
	svc, _, _ := newTestCodeService(newFakeClock())
	ctx := context.Background()
	subject := models.SubjectKey("user123", models.PurposePasswordRecovery)

	issued, err := svc.Issue(ctx, subject, "user@example.com", models.TemporaryPasswordPolicy())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Validate(ctx, subject, issued.Plaintext)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Revoke(ctx, subject))

	_, err = svc.Validate(ctx, subject, issued.Plaintext)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSecretCodeService_Validate_ExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	svc, _, _ := newTestCodeService(clock)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.Equal(t, issued.Record.ExpiresAt, clock.Now())

	_, err = svc.Validate(ctx, testSubject, issued.Plaintext)
	assert.ErrorIs(t, err, models.ErrExpired)
}

func TestSecretCodeService_Validate_MismatchPersistsCounter(t *testing.T) {
	svc, repo, _ := newTestCodeService(newFakeClock())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)

	_, err = svc.Validate(ctx, testSubject, "NOTHEXXX")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
	assert.Equal(t, 2, repo.Get(issued.Record.ID).RemainingAttempts)
}

func TestSecretCodeService_Validate_MismatchFailsWhenCounterCannotPersist(t *testing.T) {
	svc, repo, _ := newTestCodeService(newFakeClock())
	ctx := context.Background()

	_, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)
	repo.UpdateErr = errors.New("connection reset")

	_, err = svc.Validate(ctx, testSubject, "NOTHEXXX")
	assert.ErrorIs(t, err, models.ErrTransient)
}

func TestSecretCodeService_Validate_AttemptExhaustion(t *testing.T) {
	clock := newFakeClock()
	svc, _, _ := newTestCodeService(clock)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)

	_, err = svc.Validate(ctx, testSubject, "NOTHEXXX")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
	_, err = svc.Validate(ctx, testSubject, "NOTHEXXX")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
	_, err = svc.Validate(ctx, testSubject, "NOTHEXXX")
	assert.ErrorIs(t, err, models.ErrAttemptsExhausted)

	// even the right code is refused while cooling down
	_, err = svc.Validate(ctx, testSubject, issued.Plaintext)
	assert.ErrorIs(t, err, models.ErrCooldownActive)

	retryAfter, ok := models.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Minute, retryAfter)
}

func TestSecretCodeService_Validate_CooldownElapseRestoresAttempts(t *testing.T) {
	clock := newFakeClock()
	svc, repo, _ := newTestCodeService(clock)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _ = svc.Validate(ctx, testSubject, "NOTHEXXX")
	}

	clock.Advance(30 * time.Minute)

	_, err = svc.Validate(ctx, testSubject, "NOTHEXXX")
	assert.ErrorIs(t, err, models.ErrInvalidCode)
	stored := repo.Get(issued.Record.ID)
	assert.Nil(t, stored.CooldownUntil)
	assert.Equal(t, 2, stored.RemainingAttempts)

	_, err = svc.Validate(ctx, testSubject, issued.Plaintext)
	assert.NoError(t, err)
}

func TestSecretCodeService_Issue_RefusedDuringCooldown(t *testing.T) {
	clock := newFakeClock()
	svc, _, _ := newTestCodeService(clock)
	ctx := context.Background()

	_, err := svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _ = svc.Validate(ctx, testSubject, "NOTHEXXX")
	}

	clock.Advance(10 * time.Minute)

	_, err = svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	assert.ErrorIs(t, err, models.ErrCooldownActive)
	retryAfter, ok := models.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, retryAfter)

	clock.Advance(20 * time.Minute)
	_, err = svc.Issue(ctx, testSubject, "user@example.com", models.UnlockPolicy(3))
	assert.NoError(t, err)
}

func TestSecretCodeService_Revoke_NothingOutstanding(t *testing.T) {
	svc, _, _ := newTestCodeService(newFakeClock())

	assert.NoError(t, svc.Revoke(context.Background(), testSubject))
}

func TestSecretCodeService_Revoke_ExpiredCodeUntouched(t *testing.T) {
	clock := newFakeClock()
	svc, repo, _ := newTestCodeService(clock)
	ctx := context.Background()
	subject := models.SubjectKey("user123", models.PurposePasswordRecovery)

	issued, err := svc.Issue(ctx, subject, "user@example.com", models.TemporaryPasswordPolicy())
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	require.NoError(t, svc.Revoke(ctx, subject))

	stored := repo.Get(issued.Record.ID)
	require.NotNil(t, stored)
	assert.False(t, stored.Consumed)
	assert.Nil(t, stored.ConsumedAt)
}

func TestSecretCodeService_ConcurrentIssue_LeavesOneCurrentCode(t *testing.T) {
	svc, repo, _ := newTestCodeService(newFakeClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(ctx, testSubject, "", models.UnlockPolicy(3))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	current := 0
	for _, code := range repo.codes {
		if code.SupersededAt == nil {
			current++
			assert.Equal(t, 3, code.RemainingAttempts)
		}
	}
	assert.Equal(t, 1, current)
}

func TestUserIDFromSubject(t *testing.T) {
	assert.Equal(t, "user123", userIDFromSubject("user:user123:account_unlock"))
	assert.Equal(t, "a:b", userIDFromSubject("user:a:b:email_verification"))
	assert.Equal(t, "", userIDFromSubject("device:42"))
}
