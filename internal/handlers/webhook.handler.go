package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/fasthttp/router"

	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
)

type WebhookService interface {
	HandleInbound(ctx context.Context, rawPhone, postback, text string) error
	HandleDeliveryStatus(ctx context.Context, eventType, providerMessageID, reason string) error
}

// WebhookHandler terminates Gupshup WhatsApp callbacks. The provider posts
// one envelope per event; inbound staff messages and delivery receipts share
// the endpoint and are told apart by the envelope type.
type WebhookHandler struct {
	svc    WebhookService
	secret string
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/gupshup", h.HandleGupshup)
}

func NewWebhookHandler(svc WebhookService, secret string) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: secret}
}

// gupshupEnvelope is the outer callback shape: {"type": ..., "payload": {...}}.
type gupshupEnvelope struct {
	Type    string         `json:"type"`
	Payload gupshupPayload `json:"payload"`
	Source  string         `json:"source"`
}

// gupshupPayload covers both inbound messages and message events. Gupshup
// moves fields around between API versions, so everything relevant is
// declared here and resolved leniently.
type gupshupPayload struct {
	ID     string `json:"id"`
	GsID   string `json:"gsId"`
	Type   string `json:"type"`
	Source string `json:"source"`

	// Inbound message fields.
	PostbackText string          `json:"postbackText"`
	Text         string          `json:"text"`
	Title        string          `json:"title"`
	Reply        json.RawMessage `json:"reply"`

	// Inner payload: nested postback/text on some versions, the error
	// detail on failed message events.
	Payload *gupshupInnerPayload `json:"payload"`

	// Failure detail when not nested.
	Code   json.RawMessage `json:"code"`
	Reason string          `json:"reason"`
}

type gupshupInnerPayload struct {
	PostbackText string          `json:"postbackText"`
	Text         string          `json:"text"`
	Code         json.RawMessage `json:"code"`
	Reason       string          `json:"reason"`
}

func (h *WebhookHandler) HandleGupshup(ctx *xhttp.RequestCtx) {
	if h.secret == "" {
		logger.Error("webhook secret not configured, rejecting callback")
		ctx.SetStatusCode(403)
		return
	}
	token := ctx.Request.Header.Peek("X-Webhook-Secret")
	if subtle.ConstantTimeCompare(token, []byte(h.secret)) != 1 {
		logger.Warn("invalid webhook secret header")
		ctx.SetStatusCode(403)
		return
	}

	var env gupshupEnvelope
	if err := json.Unmarshal(ctx.PostBody(), &env); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	// The provider retries 4xx/5xx responses; processing errors are logged
	// and swallowed so a poison payload cannot wedge the callback queue.
	switch env.Type {
	case "message":
		phone := env.Payload.Source
		if phone == "" {
			phone = env.Source
		}
		postback, text := resolveInbound(&env.Payload)
		if err := h.svc.HandleInbound(ctx, phone, postback, text); err != nil {
			logger.Error("inbound webhook processing failed", "error", err)
		}
	case "message-event":
		messageID := env.Payload.GsID
		if messageID == "" {
			messageID = env.Payload.ID
		}
		if err := h.svc.HandleDeliveryStatus(ctx, env.Payload.Type, messageID, failureReason(&env.Payload)); err != nil {
			logger.Error("delivery webhook processing failed", "error", err)
		}
	}

	ctx.SetStatusCode(200)
}

// resolveInbound extracts the postback and free text from the formats
// Gupshup delivers template button taps in: postbackText at either nesting
// level, or a reply that is a bare string or a {"id","title"} object.
func resolveInbound(p *gupshupPayload) (postback, text string) {
	switch p.Type {
	case "quick_reply", "button_reply", "button":
		postback = p.PostbackText
		if postback == "" && p.Payload != nil {
			postback = p.Payload.PostbackText
		}
		if postback == "" && len(p.Reply) > 0 {
			var s string
			if err := json.Unmarshal(p.Reply, &s); err == nil {
				postback = s
			} else {
				var obj struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				}
				if err := json.Unmarshal(p.Reply, &obj); err == nil {
					postback = obj.ID
					if postback == "" {
						postback = obj.Title
					}
				}
			}
		}
	}

	text = p.Text
	if text == "" && p.Payload != nil {
		text = p.Payload.Text
	}
	if text == "" {
		text = p.Title
	}
	return postback, text
}

// failureReason flattens the error detail of a failed message event, which
// arrives either nested or at the payload level.
func failureReason(p *gupshupPayload) string {
	code, reason := p.Code, p.Reason
	if p.Payload != nil && (p.Payload.Reason != "" || len(p.Payload.Code) > 0) {
		code, reason = p.Payload.Code, p.Payload.Reason
	}
	if len(code) == 0 && reason == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", rawToString(code), reason)
}

// rawToString renders a JSON scalar that may be a number or a string.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
