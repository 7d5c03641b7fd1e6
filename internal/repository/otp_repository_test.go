package repository

import (
	"context"
	"testing"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOTPCode(phone string) *model.OTPCode {
	return &model.OTPCode{
		Phone:     phone,
		CodeHash:  "hash-of-123456",
		Channel:   model.OTPChannelWhatsApp,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

func TestOTPRepository_VerifyFlow(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOTPRepository(db)
	ctx := context.Background()

	otp, err := repo.Create(ctx, newOTPCode("+19990001111"))
	require.NoError(t, err)

	t.Run("lock latest active finds the code", func(t *testing.T) {
		got, err := repo.LockLatestActive(ctx, "+19990001111", "", nil, 5, time.Now())
		require.NoError(t, err)
		assert.Equal(t, otp.ID, got.ID)
	})

	t.Run("newest code wins over an older one", func(t *testing.T) {
		older := newOTPCode("+19990002222")
		older.CreatedAt = time.Now().Add(-5 * time.Minute)
		_, err := repo.Create(ctx, older)
		require.NoError(t, err)

		newer, err := repo.Create(ctx, newOTPCode("+19990002222"))
		require.NoError(t, err)

		got, err := repo.LockLatestActive(ctx, "+19990002222", "", nil, 5, time.Now())
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})

	t.Run("attempts accumulate and exhaust the code", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			attempts, err := repo.IncrementAttempts(ctx, otp.ID)
			require.NoError(t, err)
			assert.Equal(t, i, attempts)
		}

		_, err := repo.LockLatestActive(ctx, "+19990001111", "", nil, 5, time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("mark used has a single winner", func(t *testing.T) {
		code, err := repo.Create(ctx, newOTPCode("+19990003333"))
		require.NoError(t, err)

		ok, err := repo.MarkUsed(ctx, code.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkUsed(ctx, code.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired codes are unverifiable", func(t *testing.T) {
		expired := newOTPCode("+19990004444")
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		_, err := repo.Create(ctx, expired)
		require.NoError(t, err)

		_, err = repo.LockLatestActive(ctx, "+19990004444", "", nil, 5, time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOTPRepository_FallbackClaim(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOTPRepository(db)
	ctx := context.Background()

	staleness := time.Minute

	t.Run("claim then complete with a fresh hash", func(t *testing.T) {
		otp, err := repo.Create(ctx, newOTPCode("+15550001111"))
		require.NoError(t, err)

		ok, err := repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.CompleteFallback(ctx, otp.ID, "hash-of-654321"))

		got, err := repo.GetByID(ctx, otp.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OTPChannelSMS, got.Channel)
		assert.True(t, got.SmsFallbackSent)
		assert.Equal(t, "hash-of-654321", got.CodeHash)
	})

	t.Run("stale claims are retaken", func(t *testing.T) {
		otp, err := repo.Create(ctx, newOTPCode("+15550002222"))
		require.NoError(t, err)

		ok, err := repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now().Add(-2*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("clearing the claim allows a retry", func(t *testing.T) {
		otp, err := repo.Create(ctx, newOTPCode("+15550003333"))
		require.NoError(t, err)

		ok, err := repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now())
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, repo.ClearFallbackClaim(ctx, otp.ID))

		ok, err = repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("fallback already sent blocks the claim", func(t *testing.T) {
		otp, err := repo.Create(ctx, newOTPCode("+15550004444"))
		require.NoError(t, err)
		require.NoError(t, repo.FlipToSMSFallback(ctx, otp.ID))

		ok, err := repo.TryClaimFallback(ctx, otp.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("claim by provider message id", func(t *testing.T) {
		otp, err := repo.Create(ctx, newOTPCode("+15550005555"))
		require.NoError(t, err)
		require.NoError(t, repo.SetProviderMessageID(ctx, otp.ID, "wamid-otp-1"))

		claimed, ok, err := repo.ClaimFallbackByMessageID(ctx, "wamid-otp-1", staleness, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, otp.ID, claimed.ID)

		_, ok, err = repo.ClaimFallbackByMessageID(ctx, "wamid-otp-1", staleness, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestOTPRepository_SweepCandidates(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOTPRepository(db)
	ctx := context.Background()

	confirmTimeout := time.Minute
	ttl := 10 * time.Minute
	staleness := time.Minute
	now := time.Now()

	eligible := newOTPCode("+16660001111")
	eligible.CreatedAt = now.Add(-2 * time.Minute)
	created, err := repo.Create(ctx, eligible)
	require.NoError(t, err)

	tooFresh := newOTPCode("+16660002222")
	tooFresh.CreatedAt = now.Add(-10 * time.Second)
	_, err = repo.Create(ctx, tooFresh)
	require.NoError(t, err)

	tooOld := newOTPCode("+16660003333")
	tooOld.CreatedAt = now.Add(-20 * time.Minute)
	_, err = repo.Create(ctx, tooOld)
	require.NoError(t, err)

	delivered := newOTPCode("+16660004444")
	delivered.CreatedAt = now.Add(-2 * time.Minute)
	delivered.ProviderMessageID = "wamid-delivered"
	_, err = repo.Create(ctx, delivered)
	require.NoError(t, err)
	require.NoError(t, repo.MarkWaDelivered(ctx, "wamid-delivered"))

	used := newOTPCode("+16660005555")
	used.CreatedAt = now.Add(-2 * time.Minute)
	usedRow, err := repo.Create(ctx, used)
	require.NoError(t, err)
	_, err = repo.MarkUsed(ctx, usedRow.ID)
	require.NoError(t, err)

	candidates, err := repo.SweepCandidates(ctx, confirmTimeout, ttl, staleness, now)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, created.ID, candidates[0].ID)
}

func TestOTPRepository_Counts(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewOTPRepository(db)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		otp := newOTPCode("+17770001111")
		otp.IPHash = "iphash-a"
		_, err := repo.Create(ctx, otp)
		require.NoError(t, err)
	}
	old := newOTPCode("+17770001111")
	old.IPHash = "iphash-a"
	old.CreatedAt = now.Add(-2 * time.Hour)
	_, err := repo.Create(ctx, old)
	require.NoError(t, err)

	emailOTP := newOTPCode("")
	emailOTP.Email = "staff@example.com"
	emailOTP.Channel = model.OTPChannelEmail
	_, err = repo.Create(ctx, emailOTP)
	require.NoError(t, err)

	count, err := repo.CountByPhoneSince(ctx, "+17770001111", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = repo.CountByIPHashSince(ctx, "iphash-a", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = repo.CountByEmailSince(ctx, "staff@example.com", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	deleted, err := repo.DeleteCreatedBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
