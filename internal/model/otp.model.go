package model

import (
	"errors"
	"time"
)

type OTPChannel string

const (
	OTPChannelWhatsApp OTPChannel = "WHATSAPP"
	OTPChannelSMS      OTPChannel = "SMS"
	OTPChannelEmail    OTPChannel = "EMAIL"
)

// OTPCode is one issued verification code. Only the hash is stored. The
// fallback fields are owned exclusively by the SMS fallback chain.
type OTPCode struct {
	ID                   int64      `json:"id"                      gorm:"primaryKey;autoIncrement;column:id"`
	Phone                string     `json:"phone"                   gorm:"column:phone;index"`
	Email                string     `json:"email"                   gorm:"column:email;index"`
	HotelID              *int64     `json:"hotel_id"                gorm:"column:hotel_id"`
	CodeHash             string     `json:"-"                       gorm:"column:code_hash;not null"`
	Channel              OTPChannel `json:"channel"                 gorm:"column:channel;not null;default:WHATSAPP"`
	ProviderMessageID    string     `json:"provider_message_id"     gorm:"column:provider_message_id;index"`
	WaDelivered          bool       `json:"wa_delivered"            gorm:"column:wa_delivered;not null;default:false"`
	SmsFallbackSent      bool       `json:"sms_fallback_sent"       gorm:"column:sms_fallback_sent;not null;default:false"`
	SmsFallbackClaimedAt *time.Time `json:"sms_fallback_claimed_at" gorm:"column:sms_fallback_claimed_at"`
	IPHash               string     `json:"-"                       gorm:"column:ip_hash"`
	Attempts             int        `json:"attempts"                gorm:"column:attempts;not null;default:0"`
	IsUsed               bool       `json:"is_used"                 gorm:"column:is_used;not null;default:false"`
	ExpiresAt            time.Time  `json:"expires_at"              gorm:"column:expires_at;not null;index"`
	CreatedAt            time.Time  `json:"created_at"              gorm:"column:created_at;autoCreateTime;index"`
}

func (OTPCode) TableName() string { return "otp_codes" }

func (o *OTPCode) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

var (
	ErrOTPInvalid     = errors.New("invalid or expired code")
	ErrOTPDelivery    = errors.New("could not deliver verification code")
	ErrOTPMaxAttempts = errors.New("too many verification attempts")
)
