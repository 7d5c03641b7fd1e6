package notify

import (
	"encoding/json"
	"fmt"
	"html"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
)

// ContentBuilder renders events into channel-specific content. Rendering is
// kept out of the adapters so the queue payloads stay plain data.
type ContentBuilder struct {
	DashboardBaseURL string
}

func NewContentBuilder(dashboardBaseURL string) *ContentBuilder {
	return &ContentBuilder{DashboardBaseURL: dashboardBaseURL}
}

// AckPostback is the reply payload that acknowledges a request.
func AckPostback(publicID string) string {
	return "ack:" + publicID
}

// EscalationAckPostback acknowledges a request from an escalation message.
// The tier is carried so the acknowledgement can be attributed.
func EscalationAckPostback(publicID string, tier int) string {
	return fmt.Sprintf("esc_ack:%s:%d", publicID, tier)
}

// ViewPostback opens the request detail without acknowledging it.
func ViewPostback(publicID string) string {
	return "view:" + publicID
}

// TemplateParams renders the positional parameters for the WhatsApp
// template matching the event type.
func (b *ContentBuilder) TemplateParams(e *Event) []string {
	switch e.Type {
	case model.EventEscalation:
		return []string{
			fmt.Sprintf("%d", e.EscalationTier),
			e.DisplayName(),
			e.Request.RoomNumber,
			e.Request.RequestType,
		}
	case model.EventResponseDue:
		return []string{
			e.DisplayName(),
			e.Request.RoomNumber,
			e.Request.RequestType,
		}
	default:
		return []string{
			e.DisplayName(),
			e.Request.RoomNumber,
			e.Request.GuestName,
			e.Request.RequestType,
		}
	}
}

// Postbacks returns the quick-reply payloads in button order.
func (b *ContentBuilder) Postbacks(e *Event) []string {
	publicID := e.PublicID()
	if e.Type == model.EventEscalation {
		return []string{EscalationAckPostback(publicID, e.EscalationTier), ViewPostback(publicID)}
	}
	return []string{AckPostback(publicID), ViewPostback(publicID)}
}

// SessionText is the free-form message used inside an open service window.
func (b *ContentBuilder) SessionText(e *Event) string {
	switch e.Type {
	case model.EventEscalation:
		return fmt.Sprintf("Escalation (tier %d): %s request from room %s is still waiting: %s",
			e.EscalationTier, e.DisplayName(), e.Request.RoomNumber, e.Request.RequestType)
	case model.EventResponseDue:
		return fmt.Sprintf("Reminder: %s request from room %s is due: %s",
			e.DisplayName(), e.Request.RoomNumber, e.Request.RequestType)
	default:
		return fmt.Sprintf("New %s request from room %s (%s): %s",
			e.DisplayName(), e.Request.RoomNumber, e.Request.GuestName, e.Request.RequestType)
	}
}

// SessionReplyOptions are the quick-reply button labels, index-aligned with
// Postbacks.
func (b *ContentBuilder) SessionReplyOptions(e *Event) []string {
	return []string{"Acknowledge", "View"}
}

// Title is the short label used for bell notifications and push.
func (b *ContentBuilder) Title(e *Event) string {
	switch e.Type {
	case model.EventEscalation:
		return fmt.Sprintf("Escalation: %s (tier %d)", e.DisplayName(), e.EscalationTier)
	case model.EventResponseDue:
		return fmt.Sprintf("Response due: %s", e.DisplayName())
	case model.EventDailyDigest:
		return "Daily Summary"
	case model.EventAfterHoursFallback:
		return fmt.Sprintf("After hours: %s", e.DisplayName())
	default:
		return fmt.Sprintf("New request: %s", e.DisplayName())
	}
}

// Body is the longer label used for bell notifications and push.
func (b *ContentBuilder) Body(e *Event) string {
	if !e.IsRequestEvent() {
		if body, ok := e.Extra["body"]; ok {
			return body
		}
		return ""
	}
	return fmt.Sprintf("Room %s: %s", e.Request.RoomNumber, e.Request.RequestType)
}

// RequestURL is the dashboard deep link for the event's request.
func (b *ContentBuilder) RequestURL(e *Event) string {
	if e.Request == nil {
		return b.DashboardBaseURL
	}
	return fmt.Sprintf("%s/requests/%s", b.DashboardBaseURL, e.PublicID())
}

// PushPayload is the JSON body handed to the service worker.
func (b *ContentBuilder) PushPayload(e *Event) (string, error) {
	payload := map[string]string{
		"title": b.Title(e),
		"body":  b.Body(e),
		"url":   b.RequestURL(e),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EmailSubject renders the subject line for route and on-call emails.
func (b *ContentBuilder) EmailSubject(e *Event) string {
	return b.Title(e)
}

// EmailHTML renders a minimal HTML body with a dashboard link.
func (b *ContentBuilder) EmailHTML(e *Event) string {
	title := html.EscapeString(b.Title(e))
	body := html.EscapeString(b.Body(e))
	link := b.RequestURL(e)
	return fmt.Sprintf(
		"<h2>%s</h2><p>%s</p><p><a href=\"%s\">Open request</a></p>",
		title, body, link,
	)
}

// OTPTemplateParams renders the OTP template parameters. The code appears
// twice, once in the body and once in the copy button.
func OTPTemplateParams(code string) []string {
	return []string{code, code}
}

// OTPSMSText is the plain-text body for the SMS fallback.
func OTPSMSText(code string) string {
	return fmt.Sprintf("%s is your verification code. It expires in 10 minutes.", code)
}

// OTPEmailSubject is the subject line for email verification codes.
func OTPEmailSubject() string {
	return "Your verification code"
}

// OTPEmailHTML renders the email body carrying a verification code.
func OTPEmailHTML(code string) string {
	return fmt.Sprintf(
		"<h2>Your verification code</h2>"+
			"<p>Use the code below to log in to your dashboard. It expires in 10 minutes.</p>"+
			"<p style=\"font-size:32px;font-weight:700;letter-spacing:6px\">%s</p>"+
			"<p>If you didn't request this code, you can safely ignore this email.</p>",
		html.EscapeString(code),
	)
}
