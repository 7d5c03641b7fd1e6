package repository

import (
	"context"
	"errors"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OTPRepository struct {
	*pg.DB
}

func NewOTPRepository(db *pg.DB) *OTPRepository {
	return &OTPRepository{db}
}

func (r *OTPRepository) Create(ctx context.Context, otp *model.OTPCode) (*model.OTPCode, error) {
	if err := r.Write(ctx).Create(otp).Error; err != nil {
		return nil, err
	}
	return otp, nil
}

func (r *OTPRepository) GetByID(ctx context.Context, id int64) (*model.OTPCode, error) {
	var otp model.OTPCode
	if err := r.Read(ctx).First(&otp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &otp, nil
}

func (r *OTPRepository) SetProviderMessageID(ctx context.Context, id int64, messageID string) error {
	return r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Update("provider_message_id", messageID).Error
}

// FlipToSMSFallback records the fallback attempt before the SMS send, so a
// crash between the send and the write still looks "sent" to the sweeper.
func (r *OTPRepository) FlipToSMSFallback(ctx context.Context, id int64) error {
	return r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"channel":           model.OTPChannelSMS,
			"sms_fallback_sent": true,
		}).Error
}

// MarkUnverifiable marks a code whose every channel failed: kept for
// DB-fallback rate limiting but never verifiable.
func (r *OTPRepository) MarkUnverifiable(ctx context.Context, id int64) error {
	return r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"channel":           model.OTPChannelWhatsApp,
			"sms_fallback_sent": false,
			"is_used":           true,
		}).Error
}

// CompleteFallback persists the fresh code hash after a successful
// fallback SMS.
func (r *OTPRepository) CompleteFallback(ctx context.Context, id int64, codeHash string) error {
	return r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"code_hash":         codeHash,
			"channel":           model.OTPChannelSMS,
			"sms_fallback_sent": true,
		}).Error
}

// ClearFallbackClaim releases a claim after a failed SMS send so a later
// sweep retries.
func (r *OTPRepository) ClearFallbackClaim(ctx context.Context, id int64) error {
	return r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Update("sms_fallback_claimed_at", nil).Error
}

// MarkWaDelivered is driven by delivered/read provider webhooks.
func (r *OTPRepository) MarkWaDelivered(ctx context.Context, providerMessageID string) error {
	return r.Write(ctx).Model(&model.OTPCode{}).
		Where("provider_message_id = ?", providerMessageID).
		Update("wa_delivered", true).Error
}

// TryClaimFallback acquires the SMS-fallback claim on one row. Claims only
// unclaimed rows or rows whose claim is older than staleness; lost races
// report false.
func (r *OTPRepository) TryClaimFallback(ctx context.Context, id int64, staleness time.Duration, now time.Time) (bool, error) {
	claimed := false
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		tx := r.Write(ctx)
		if tx.Dialector.Name() == "postgres" {
			tx = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var otp model.OTPCode
		err := tx.
			Where("id = ? AND sms_fallback_sent = ? AND is_used = ?", id, false, false).
			Where("sms_fallback_claimed_at IS NULL OR sms_fallback_claimed_at < ?", now.Add(-staleness)).
			First(&otp).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		res := r.Write(ctx).Model(&model.OTPCode{}).
			Where("id = ? AND sms_fallback_sent = ? AND is_used = ?", id, false, false).
			Where("sms_fallback_claimed_at IS NULL OR sms_fallback_claimed_at < ?", now.Add(-staleness)).
			Update("sms_fallback_claimed_at", now)
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected > 0
		return nil
	})
	return claimed, err
}

// ClaimFallbackByMessageID is the webhook-driven variant: on an explicit
// provider "failed" event, claim the matching undelivered row.
func (r *OTPRepository) ClaimFallbackByMessageID(ctx context.Context, providerMessageID string, staleness time.Duration, now time.Time) (*model.OTPCode, bool, error) {
	var otp model.OTPCode
	err := r.Read(ctx).
		Where("provider_message_id = ? AND sms_fallback_sent = ? AND is_used = ? AND expires_at > ?",
			providerMessageID, false, false, now).
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	claimed, err := r.TryClaimFallback(ctx, otp.ID, staleness, now)
	if err != nil || !claimed {
		return nil, false, err
	}
	return &otp, true, nil
}

// SweepCandidates returns undelivered WhatsApp codes past the confirmation
// timeout that are unexpired and unclaimed (or stale-claimed). The caller
// claims each candidate individually before acting on it.
func (r *OTPRepository) SweepCandidates(ctx context.Context, confirmTimeout, ttl, staleness time.Duration, now time.Time) ([]*model.OTPCode, error) {
	var otps []*model.OTPCode
	err := r.Read(ctx).
		Where("created_at < ? AND created_at > ?", now.Add(-confirmTimeout), now.Add(-ttl)).
		Where("wa_delivered = ? AND sms_fallback_sent = ? AND is_used = ?", false, false, false).
		Where("sms_fallback_claimed_at IS NULL OR sms_fallback_claimed_at < ?", now.Add(-staleness)).
		Find(&otps).Error
	if err != nil {
		return nil, err
	}
	return otps, nil
}

// LockLatestActive fetches the newest verifiable code for the given scope
// under a row lock. Must run inside WithinTransaction.
func (r *OTPRepository) LockLatestActive(ctx context.Context, phone, email string, hotelID *int64, maxAttempts int, now time.Time) (*model.OTPCode, error) {
	tx := r.Write(ctx)
	if tx.Dialector.Name() == "postgres" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	q := tx.Where("is_used = ? AND expires_at > ? AND attempts < ?", false, now, maxAttempts)
	if phone != "" {
		q = q.Where("phone = ?", phone)
	}
	if email != "" {
		q = q.Where("email = ? AND channel = ?", email, model.OTPChannelEmail)
	}
	if hotelID != nil {
		q = q.Where("hotel_id = ?", *hotelID)
	}

	var otp model.OTPCode
	if err := q.Order("created_at DESC").First(&otp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &otp, nil
}

// IncrementAttempts bumps the counter and returns the new value.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	err := r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
	if err != nil {
		return 0, err
	}
	var attempts int
	err = r.Write(ctx).Model(&model.OTPCode{}).Where("id = ?", id).
		Pluck("attempts", &attempts).Error
	return attempts, err
}

// MarkUsed consumes the code. The conditional update means two concurrent
// verifications can each call this but only one sees true.
func (r *OTPRepository) MarkUsed(ctx context.Context, id int64) (bool, error) {
	res := r.Write(ctx).Model(&model.OTPCode{}).
		Where("id = ? AND is_used = ?", id, false).
		Update("is_used", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountByPhoneSince supports the DB fallback of the phone rate limit.
func (r *OTPRepository) CountByPhoneSince(ctx context.Context, phone string, since time.Time) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&model.OTPCode{}).
		Where("phone = ? AND created_at >= ?", phone, since).
		Count(&count).Error
	return count, err
}

// CountByIPHashSince supports the DB fallback of the IP rate limit.
func (r *OTPRepository) CountByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&model.OTPCode{}).
		Where("ip_hash = ? AND created_at >= ?", ipHash, since).
		Count(&count).Error
	return count, err
}

// CountByEmailSince supports the DB fallback of the email rate limit.
func (r *OTPRepository) CountByEmailSince(ctx context.Context, email string, since time.Time) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&model.OTPCode{}).
		Where("email = ? AND created_at >= ?", email, since).
		Count(&count).Error
	return count, err
}

// DeleteCreatedBefore removes aged rows; run by the daily cleanup task.
func (r *OTPRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.Write(ctx).Where("created_at < ?", cutoff).Delete(&model.OTPCode{})
	return res.RowsAffected, res.Error
}
