package model

import (
	"fmt"
	"time"
)

// EventType classifies a notification event.
type EventType string

const (
	EventRequestCreated     EventType = "request.created"
	EventEscalation         EventType = "escalation"
	EventResponseDue        EventType = "response_due"
	EventDailyDigest        EventType = "daily_digest"
	EventAfterHoursFallback EventType = "after_hours_fallback"
)

// DeliveryStatus is the lifecycle state of a delivery record.
type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "QUEUED"
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// MessageType distinguishes paid template sends from free-form session sends.
type MessageType string

const (
	MessageTypeTemplate MessageType = "TEMPLATE"
	MessageTypeSession  MessageType = "SESSION"
)

// DeliveryRecord is the idempotency ledger. The unique idempotency key is
// the sole mechanism preventing duplicate sends under retry or concurrent
// dispatch; a get-or-create against an existing key is a no-op.
type DeliveryRecord struct {
	ID                int64          `json:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	IdempotencyKey    string         `json:"idempotency_key"     gorm:"column:idempotency_key;not null;uniqueIndex"`
	HotelID           int64          `json:"hotel_id"            gorm:"column:hotel_id;not null;index"`
	RouteID           *int64         `json:"route_id"            gorm:"column:route_id"`
	RequestID         *int64         `json:"request_id"          gorm:"column:request_id;index"`
	EscalationTier    *int           `json:"escalation_tier"     gorm:"column:escalation_tier"`
	Channel           Channel        `json:"channel"             gorm:"column:channel;not null"`
	Target            string         `json:"target"              gorm:"column:target;not null"`
	EventType         EventType      `json:"event_type"          gorm:"column:event_type;not null"`
	Status            DeliveryStatus `json:"status"              gorm:"column:status;not null;default:QUEUED;index"`
	MessageType       MessageType    `json:"message_type"        gorm:"column:message_type;not null;default:TEMPLATE"`
	ProviderMessageID string         `json:"provider_message_id" gorm:"column:provider_message_id;index"`
	AcknowledgedAt    *time.Time     `json:"acknowledged_at"     gorm:"column:acknowledged_at"`
	DeliveredAt       *time.Time     `json:"delivered_at"        gorm:"column:delivered_at"`
	ErrorMessage      string         `json:"error_message"       gorm:"column:error_message"`
	CreatedAt         time.Time      `json:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliveryRecord) TableName() string { return "delivery_records" }

// RouteDeliveryKey builds the idempotency key for a route-based WhatsApp
// delivery.
func RouteDeliveryKey(eventType EventType, publicID string, tier int, routeID int64) string {
	return fmt.Sprintf("%s:%s:%d:%d", eventType, publicID, tier, routeID)
}

// EmailDeliveryKey builds the idempotency key for a route-based email
// delivery. The channel prefix keeps a WhatsApp route and an email route
// sharing the same id on distinct keys.
func EmailDeliveryKey(eventType EventType, publicID string, tier int, routeID int64) string {
	return fmt.Sprintf("email:%s:%s:%d:%d", eventType, publicID, tier, routeID)
}

// OncallDeliveryKey builds the idempotency key for an on-call fallback
// delivery on the given channel.
func OncallDeliveryKey(channel Channel, eventType EventType, publicID string, tier int) string {
	prefix := "wa"
	if channel == ChannelEmail {
		prefix = "email"
	}
	return fmt.Sprintf("oncall:%s:%s:%s:%d", prefix, eventType, publicID, tier)
}
