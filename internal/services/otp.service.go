package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/notify"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
)

var (
	ErrOTPRateLimited = errors.New("too many verification requests")
	ErrNoStaffAccount = errors.New("no active staff account for this email")
)

// OTPStore is the persistence surface for verification codes.
type OTPStore interface {
	Create(ctx context.Context, otp *model.OTPCode) (*model.OTPCode, error)
	GetByID(ctx context.Context, id int64) (*model.OTPCode, error)
	SetProviderMessageID(ctx context.Context, id int64, messageID string) error
	FlipToSMSFallback(ctx context.Context, id int64) error
	MarkUnverifiable(ctx context.Context, id int64) error
	CompleteFallback(ctx context.Context, id int64, codeHash string) error
	ClearFallbackClaim(ctx context.Context, id int64) error
	MarkWaDelivered(ctx context.Context, providerMessageID string) error
	TryClaimFallback(ctx context.Context, id int64, staleness time.Duration, now time.Time) (bool, error)
	ClaimFallbackByMessageID(ctx context.Context, providerMessageID string, staleness time.Duration, now time.Time) (*model.OTPCode, bool, error)
	SweepCandidates(ctx context.Context, confirmTimeout, ttl, staleness time.Duration, now time.Time) ([]*model.OTPCode, error)
	LockLatestActive(ctx context.Context, phone, email string, hotelID *int64, maxAttempts int, now time.Time) (*model.OTPCode, error)
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	MarkUsed(ctx context.Context, id int64) (bool, error)
	CountByPhoneSince(ctx context.Context, phone string, since time.Time) (int64, error)
	CountByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error)
	CountByEmailSince(ctx context.Context, email string, since time.Time) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OTPWhatsAppGateway sends verification codes over WhatsApp.
type OTPWhatsAppGateway interface {
	SendTemplate(ctx context.Context, destination, templateID string, params []string, postbacks []gateway.Postback) (string, error)
	OTPTemplateID() string
}

// OTPSMSGateway sends verification codes over SMS.
type OTPSMSGateway interface {
	SendOTP(ctx context.Context, phone, msg string, codeLength int) error
}

// OTPEmailGateway sends verification codes over email.
type OTPEmailGateway interface {
	Send(ctx context.Context, to, subject, html string, tags []gateway.EmailTag) (string, error)
}

// StaffDirectory resolves staff accounts for the email login flow.
type StaffDirectory interface {
	GetActiveByEmail(ctx context.Context, email string) (*model.HotelMembership, error)
}

type OTPOptions struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
	// FallbackTimeout is how long an undelivered WhatsApp send may wait for
	// a delivery confirmation before the sweeper fires the SMS fallback.
	FallbackTimeout time.Duration
	// ClaimStaleness is the age past which an SMS fallback claim is treated
	// as abandoned and may be retaken.
	ClaimStaleness time.Duration
	RateWindow     time.Duration
	RatePerPhone   int
	RatePerIP      int
	RatePerEmail   int
	Retention      time.Duration
}

func DefaultOTPOptions() OTPOptions {
	return OTPOptions{
		CodeLength:      6,
		TTL:             10 * time.Minute,
		MaxAttempts:     5,
		FallbackTimeout: 60 * time.Second,
		ClaimStaleness:  60 * time.Second,
		RateWindow:      time.Hour,
		RatePerPhone:    3,
		RatePerIP:       5,
		RatePerEmail:    3,
		Retention:       24 * time.Hour,
	}
}

// OTPService generates, delivers and verifies one-time codes. WhatsApp is
// the primary channel for phone codes; undelivered or failed sends fall back
// to SMS with a fresh code.
type OTPService struct {
	store    OTPStore
	whatsapp OTPWhatsAppGateway
	sms      OTPSMSGateway
	email    OTPEmailGateway
	staff    StaffDirectory
	limiter  *RateLimiter
	opts     OTPOptions
}

func NewOTPService(store OTPStore, whatsapp OTPWhatsAppGateway, sms OTPSMSGateway, email OTPEmailGateway, staff StaffDirectory, limiter *RateLimiter, opts OTPOptions) *OTPService {
	return &OTPService{
		store:    store,
		whatsapp: whatsapp,
		sms:      sms,
		email:    email,
		staff:    staff,
		limiter:  limiter,
		opts:     opts,
	}
}

// HashCode returns the stored form of a verification code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// HashIP returns the stored form of a client address.
func HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func (s *OTPService) generateCode() (string, error) {
	var b strings.Builder
	for i := 0; i < s.opts.CodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// SendPhoneOTP generates a code and attempts WhatsApp delivery for it, with
// an immediate SMS fallback when the WhatsApp send fails outright. If both
// channels fail the row is consumed and ErrOTPDelivery returned; the row is
// kept so database-fallback rate limiting still sees the attempt.
func (s *OTPService) SendPhoneOTP(ctx context.Context, phone, ip string, hotelID *int64) (*model.OTPCode, error) {
	now := time.Now()

	if err := s.checkPhoneLimits(ctx, phone, ip, now); err != nil {
		return nil, err
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	otp, err := s.store.Create(ctx, &model.OTPCode{
		Phone:     phone,
		HotelID:   hotelID,
		CodeHash:  HashCode(code),
		Channel:   model.OTPChannelWhatsApp,
		IPHash:    HashIP(ip),
		ExpiresAt: now.Add(s.opts.TTL),
	})
	if err != nil {
		return nil, err
	}

	messageID, waErr := s.whatsapp.SendTemplate(ctx, phone, s.whatsapp.OTPTemplateID(), notify.OTPTemplateParams(code), nil)
	if waErr == nil {
		if err := s.store.SetProviderMessageID(ctx, otp.ID, messageID); err != nil {
			logger.Error("failed to record otp message id", "otp", otp.ID, "error", err)
		}
		prom.IncOTPDelivery("whatsapp", "sent")
		return otp, nil
	}

	logger.Warn("whatsapp otp send failed, falling back to sms", "otp", otp.ID, "error", waErr)
	prom.IncOTPDelivery("whatsapp", "failed")

	// The fallback flag flips before the SMS goes out. A crash after the
	// SMS send then leaves the row marked sent, which keeps the sweeper
	// from invalidating a code the guest already received.
	if err := s.store.FlipToSMSFallback(ctx, otp.ID); err != nil {
		return nil, err
	}
	prom.IncOTPFallback()

	if smsErr := s.sms.SendOTP(ctx, phone, notify.OTPSMSText(code), s.opts.CodeLength); smsErr != nil {
		logger.Error("sms otp fallback failed", "otp", otp.ID, "error", smsErr)
		prom.IncOTPDelivery("sms", "failed")
		if err := s.store.MarkUnverifiable(ctx, otp.ID); err != nil {
			logger.Error("failed to mark otp unverifiable", "otp", otp.ID, "error", err)
		}
		return nil, model.ErrOTPDelivery
	}

	prom.IncOTPDelivery("sms", "sent")
	return otp, nil
}

func (s *OTPService) checkPhoneLimits(ctx context.Context, phone, ip string, now time.Time) error {
	allowed, err := s.limiter.Allow(OTPPhoneKey(phone), s.opts.RatePerPhone, s.opts.RateWindow)
	if errors.Is(err, ErrLimiterUnavailable) {
		count, countErr := s.store.CountByPhoneSince(ctx, phone, now.Add(-s.opts.RateWindow))
		if countErr != nil {
			return countErr
		}
		allowed = count < int64(s.opts.RatePerPhone)
	} else if err != nil {
		return err
	}
	if !allowed {
		prom.IncRateLimitThrottled("otp_phone")
		return ErrOTPRateLimited
	}

	if ip == "" {
		return nil
	}
	ipHash := HashIP(ip)
	allowed, err = s.limiter.Allow(OTPIPKey(ipHash), s.opts.RatePerIP, s.opts.RateWindow)
	if errors.Is(err, ErrLimiterUnavailable) {
		count, countErr := s.store.CountByIPHashSince(ctx, ipHash, now.Add(-s.opts.RateWindow))
		if countErr != nil {
			return countErr
		}
		allowed = count < int64(s.opts.RatePerIP)
	} else if err != nil {
		return err
	}
	if !allowed {
		prom.IncRateLimitThrottled("otp_ip")
		return ErrOTPRateLimited
	}
	return nil
}

// VerifyPhoneOTP checks a code against the newest active row for the phone.
// A wrong code increments the attempt counter in its own transaction, which
// commits before the error returns so the counter survives the failed
// request. A correct code consumes the row; only one concurrent verification
// can win.
func (s *OTPService) VerifyPhoneOTP(ctx context.Context, phone, code string, hotelID *int64) (*model.OTPCode, error) {
	return s.verify(ctx, phone, "", code, hotelID)
}

func (s *OTPService) verify(ctx context.Context, phone, email, code string, hotelID *int64) (*model.OTPCode, error) {
	now := time.Now()

	var otpID int64
	var verifyErr error
	err := s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		otp, err := s.store.LockLatestActive(ctx, phone, email, hotelID, s.opts.MaxAttempts, now)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				verifyErr = model.ErrOTPInvalid
				return nil
			}
			return err
		}
		otpID = otp.ID

		if HashCode(code) != otp.CodeHash {
			attempts, err := s.store.IncrementAttempts(ctx, otp.ID)
			if err != nil {
				return err
			}
			if attempts >= s.opts.MaxAttempts {
				verifyErr = model.ErrOTPMaxAttempts
			} else {
				verifyErr = model.ErrOTPInvalid
			}
		}
		// Committing here persists the attempt increment even though the
		// verification is about to fail.
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}

	var consumed *model.OTPCode
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		won, err := s.store.MarkUsed(ctx, otpID)
		if err != nil {
			return err
		}
		if !won {
			verifyErr = model.ErrOTPInvalid
			return nil
		}
		consumed, err = s.store.GetByID(ctx, otpID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if verifyErr != nil {
		return nil, verifyErr
	}
	return consumed, nil
}

// SendEmailOTP delivers a login code to a staff email address. Unknown
// addresses get a silent no-op: a consumed tracking row is written so the
// database rate-limit fallback still counts the attempt, and no error leaks
// whether the address exists.
func (s *OTPService) SendEmailOTP(ctx context.Context, email, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	now := time.Now()

	if err := s.checkEmailLimits(ctx, email, ip, now); err != nil {
		return err
	}

	_, err := s.staff.GetActiveByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		logger.Info("otp requested for unknown email", "email", email)
		_, err := s.store.Create(ctx, &model.OTPCode{
			Email:     email,
			Channel:   model.OTPChannelEmail,
			IPHash:    HashIP(ip),
			IsUsed:    true,
			ExpiresAt: now,
		})
		return err
	}

	code, err := s.generateCode()
	if err != nil {
		return err
	}

	otp, err := s.store.Create(ctx, &model.OTPCode{
		Email:     email,
		CodeHash:  HashCode(code),
		Channel:   model.OTPChannelEmail,
		IPHash:    HashIP(ip),
		ExpiresAt: now.Add(s.opts.TTL),
	})
	if err != nil {
		return err
	}

	_, sendErr := s.email.Send(ctx, email, notify.OTPEmailSubject(), notify.OTPEmailHTML(code), []gateway.EmailTag{
		{Name: "type", Value: "email_otp"},
	})
	if sendErr != nil {
		logger.Error("email otp send failed", "otp", otp.ID, "error", sendErr)
		prom.IncOTPDelivery("email", "failed")
		if _, err := s.store.MarkUsed(ctx, otp.ID); err != nil {
			logger.Error("failed to consume undeliverable otp", "otp", otp.ID, "error", err)
		}
		return model.ErrOTPDelivery
	}

	prom.IncOTPDelivery("email", "sent")
	return nil
}

func (s *OTPService) checkEmailLimits(ctx context.Context, email, ip string, now time.Time) error {
	allowed, err := s.limiter.Allow(OTPEmailKey(email), s.opts.RatePerEmail, s.opts.RateWindow)
	if errors.Is(err, ErrLimiterUnavailable) {
		count, countErr := s.store.CountByEmailSince(ctx, email, now.Add(-s.opts.RateWindow))
		if countErr != nil {
			return countErr
		}
		allowed = count < int64(s.opts.RatePerEmail)
	} else if err != nil {
		return err
	}
	if !allowed {
		prom.IncRateLimitThrottled("otp_email")
		return ErrOTPRateLimited
	}

	if ip == "" {
		return nil
	}
	ipHash := HashIP(ip)
	allowed, err = s.limiter.Allow(OTPIPKey(ipHash), s.opts.RatePerIP, s.opts.RateWindow)
	if errors.Is(err, ErrLimiterUnavailable) {
		count, countErr := s.store.CountByIPHashSince(ctx, ipHash, now.Add(-s.opts.RateWindow))
		if countErr != nil {
			return countErr
		}
		allowed = count < int64(s.opts.RatePerIP)
	} else if err != nil {
		return err
	}
	if !allowed {
		prom.IncRateLimitThrottled("otp_ip")
		return ErrOTPRateLimited
	}
	return nil
}

// VerifyEmailOTP checks a staff login code and returns the matching
// membership. The row is consumed only after the account check passes.
func (s *OTPService) VerifyEmailOTP(ctx context.Context, email, code string) (*model.HotelMembership, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	membership, err := s.staff.GetActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoStaffAccount
		}
		return nil, err
	}

	if _, err := s.verify(ctx, "", email, code, nil); err != nil {
		return nil, err
	}
	return membership, nil
}

// HandleDeliveryEvent reacts to provider delivery callbacks for OTP sends.
// Confirmations stamp the row; a failure claims it and fires the SMS
// fallback immediately instead of waiting for the sweeper.
func (s *OTPService) HandleDeliveryEvent(ctx context.Context, eventType, providerMessageID string) error {
	if providerMessageID == "" {
		return nil
	}

	switch eventType {
	case "delivered", "read":
		return s.store.MarkWaDelivered(ctx, providerMessageID)
	case "failed":
		now := time.Now()
		otp, claimed, err := s.store.ClaimFallbackByMessageID(ctx, providerMessageID, s.opts.ClaimStaleness, now)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		s.sendFallbackSMS(ctx, otp)
		return nil
	}
	return nil
}

// Sweep finds WhatsApp sends that never got a delivery confirmation and
// fires the SMS fallback for each. Claims are taken one row at a time so
// concurrent sweepers settle on distinct rows; the SMS itself goes out
// after the claim commits.
func (s *OTPService) Sweep(ctx context.Context, now time.Time) error {
	candidates, err := s.store.SweepCandidates(ctx, s.opts.FallbackTimeout, s.opts.TTL, s.opts.ClaimStaleness, now)
	if err != nil {
		return err
	}

	for _, otp := range candidates {
		claimed, err := s.store.TryClaimFallback(ctx, otp.ID, s.opts.ClaimStaleness, now)
		if err != nil {
			logger.Error("otp fallback claim failed", "otp", otp.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		s.sendFallbackSMS(ctx, otp)
	}
	return nil
}

// sendFallbackSMS delivers a fresh code over SMS for a claimed row. The old
// hash stays valid until the new one commits, so a crash between send and
// commit leaves both codes verifiable until the sweeper retries.
func (s *OTPService) sendFallbackSMS(ctx context.Context, otp *model.OTPCode) {
	logger.Info("sms fallback triggered", "otp", otp.ID, "phone", otp.Phone)
	prom.IncOTPFallback()

	code, err := s.generateCode()
	if err != nil {
		logger.Error("failed to generate fallback code", "otp", otp.ID, "error", err)
		if err := s.store.ClearFallbackClaim(ctx, otp.ID); err != nil {
			logger.Error("failed to clear fallback claim", "otp", otp.ID, "error", err)
		}
		return
	}

	if err := s.sms.SendOTP(ctx, otp.Phone, notify.OTPSMSText(code), s.opts.CodeLength); err != nil {
		logger.Error("fallback sms send failed", "otp", otp.ID, "error", err)
		prom.IncOTPDelivery("sms", "failed")
		if err := s.store.ClearFallbackClaim(ctx, otp.ID); err != nil {
			logger.Error("failed to clear fallback claim", "otp", otp.ID, "error", err)
		}
		return
	}

	if err := s.store.CompleteFallback(ctx, otp.ID, HashCode(code)); err != nil {
		logger.Error("failed to persist fallback code", "otp", otp.ID, "error", err)
		return
	}
	prom.IncOTPDelivery("sms", "sent")
}

// Cleanup deletes verification rows past the retention window.
func (s *OTPService) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.store.DeleteCreatedBefore(ctx, now.Add(-s.opts.Retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info("cleaned up expired otp rows", "deleted", deleted)
	}
	return deleted, nil
}
