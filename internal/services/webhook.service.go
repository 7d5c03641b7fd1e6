package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
)

// WebhookDeliveryStore is the delivery-ledger surface the webhook flow
// needs.
type WebhookDeliveryStore interface {
	MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error
	MarkFailedByProviderMessageID(ctx context.Context, providerMessageID, reason string) error
	LatestForTargetAnyHotel(ctx context.Context, target string, since time.Time) (*model.DeliveryRecord, error)
	AcknowledgeForRequest(ctx context.Context, requestID int64, target string, at time.Time) error
}

// WindowStore records inbound activity that opens the 24h service window.
type WindowStore interface {
	Touch(ctx context.Context, hotelID int64, phone string, at time.Time) error
	LatestByPhone(ctx context.Context, phone string) (*model.WhatsAppServiceWindow, error)
}

// SessionTextSender sends a free-form session reply.
type SessionTextSender interface {
	SendSessionText(ctx context.Context, destination, text string) (string, error)
}

// RequestAcknowledger is the request-side surface for inbound acks.
type RequestAcknowledger interface {
	Acknowledge(ctx context.Context, publicID, channel, actor string) (*model.ServiceRequest, bool, error)
}

// RequestReader loads requests referenced by postbacks.
type RequestReader interface {
	GetByID(ctx context.Context, id int64) (*model.ServiceRequest, error)
	GetByPublicID(ctx context.Context, publicID string) (*model.ServiceRequest, error)
}

// OTPDeliveryHandler reacts to provider delivery events for OTP sends.
type OTPDeliveryHandler interface {
	HandleDeliveryEvent(ctx context.Context, eventType, providerMessageID string) error
}

// textActions maps free-text replies to button actions, since template
// button taps sometimes arrive as plain text.
var textActions = map[string]string{
	"acknowledge":  "ack",
	"ack":          "ack",
	"on it":        "ack",
	"view details": "view",
	"view":         "view",
}

// WebhookService processes provider callbacks: inbound staff replies
// (button taps and free text) and per-message delivery status updates.
type WebhookService struct {
	deliveries       WebhookDeliveryStore
	windows          WindowStore
	requests         RequestReader
	acks             RequestAcknowledger
	session          SessionTextSender
	otp              OTPDeliveryHandler
	dashboardBaseURL string
	// replyLookback bounds the delivery-record fallback search for typed
	// replies.
	replyLookback time.Duration
}

func NewWebhookService(deliveries WebhookDeliveryStore, windows WindowStore, requests RequestReader, acks RequestAcknowledger, session SessionTextSender, otp OTPDeliveryHandler, dashboardBaseURL string) *WebhookService {
	return &WebhookService{
		deliveries:       deliveries,
		windows:          windows,
		requests:         requests,
		acks:             acks,
		session:          session,
		otp:              otp,
		dashboardBaseURL: dashboardBaseURL,
		replyLookback:    7 * 24 * time.Hour,
	}
}

// NormalizePhone strips everything but digits from a phone number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parsePostback splits a postback into its action and the request public id.
func parsePostback(postback string) (action, publicID string) {
	switch {
	case strings.HasPrefix(postback, "ack:"):
		return "ack", strings.TrimPrefix(postback, "ack:")
	case strings.HasPrefix(postback, "esc_ack:"):
		parts := strings.Split(postback, ":")
		if len(parts) >= 2 {
			return "ack", parts[1]
		}
	case strings.HasPrefix(postback, "view:"):
		return "view", strings.TrimPrefix(postback, "view:")
	}
	return "", ""
}

// HandleInbound processes one inbound staff message. Any inbound message
// opens the sender's service window; postbacks and recognized button labels
// additionally acknowledge the referenced request at both the delivery and
// request level.
func (s *WebhookService) HandleInbound(ctx context.Context, rawPhone, postback, text string) error {
	phone := NormalizePhone(rawPhone)
	if phone == "" {
		return nil
	}
	now := time.Now()

	action, publicID := parsePostback(postback)

	var req *model.ServiceRequest
	var err error

	if publicID != "" {
		req, err = s.requests.GetByPublicID(ctx, publicID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				logger.Warn("postback for unknown request", "public_id", publicID, "phone", phone)
				return nil
			}
			return err
		}
	} else {
		if a, ok := textActions[strings.ToLower(strings.TrimSpace(text))]; ok {
			action = a
		}

		// Typed replies carry no request reference; the newest
		// unacknowledged notification to this phone is the best guess.
		rec, err := s.deliveries.LatestForTargetAnyHotel(ctx, phone, now.Add(-s.replyLookback))
		switch {
		case err == nil && rec.RequestID != nil:
			req, err = s.requests.GetByID(ctx, *rec.RequestID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if req == nil {
			window, werr := s.windows.LatestByPhone(ctx, phone)
			if werr != nil {
				if errors.Is(werr, repository.ErrNotFound) {
					logger.Info("inbound text with no context, skipping", "phone", phone)
					return nil
				}
				return werr
			}
			return s.windows.Touch(ctx, window.HotelID, phone, now)
		}
	}

	if err := s.windows.Touch(ctx, req.HotelID, phone, now); err != nil {
		logger.Error("failed to refresh service window", "phone", phone, "error", err)
	}

	if action == "" {
		return nil
	}

	if action == "view" {
		url := fmt.Sprintf("%s/requests/%s", s.dashboardBaseURL, req.PublicID)
		if _, err := s.session.SendSessionText(ctx, phone, "View request details:\n"+url); err != nil {
			logger.Warn("failed to send view reply", "phone", phone, "error", err)
		}
	}

	if err := s.deliveries.AcknowledgeForRequest(ctx, req.ID, phone, now); err != nil {
		logger.Error("failed to acknowledge deliveries", "request", req.PublicID, "error", err)
	}

	// Any engagement acknowledges the request itself.
	if _, _, err := s.acks.Acknowledge(ctx, req.PublicID.String(), "whatsapp", phone); err != nil {
		return fmt.Errorf("acknowledge request %s: %w", req.PublicID, err)
	}
	return nil
}

// HandleDeliveryStatus applies a provider delivery event to the ledger and
// forwards it to the OTP fallback chain. Repeated events are no-ops.
func (s *WebhookService) HandleDeliveryStatus(ctx context.Context, eventType, providerMessageID, reason string) error {
	if providerMessageID == "" {
		return nil
	}

	switch eventType {
	case "delivered", "read":
		if err := s.deliveries.MarkDelivered(ctx, providerMessageID, time.Now()); err != nil {
			return err
		}
	case "failed":
		if err := s.deliveries.MarkFailedByProviderMessageID(ctx, providerMessageID, reason); err != nil {
			return err
		}
	default:
		return nil
	}

	if s.otp != nil {
		if err := s.otp.HandleDeliveryEvent(ctx, eventType, providerMessageID); err != nil {
			logger.Error("otp delivery event failed", "message_id", providerMessageID, "error", err)
		}
	}
	return nil
}
