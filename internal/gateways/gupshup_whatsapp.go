package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/valyala/fasthttp"
)

// WhatsAppConfig carries the Gupshup WhatsApp credentials and template ids.
// Credentials come in explicitly so tests can point at a simulator.
type WhatsAppConfig struct {
	BaseURL string
	APIKey  string
	Source  string
	AppName string
	Timeout time.Duration

	RequestTemplateID     string
	EscalationTemplateID  string
	ResponseDueTemplateID string
	OTPTemplateID         string
}

// Postback is one quick-reply button binding for a template send.
type Postback struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// WhatsAppClient sends template and session messages through the Gupshup
// WhatsApp API.
type WhatsAppClient struct {
	config WhatsAppConfig
	client *fasthttp.Client
}

func NewWhatsAppClient(config WhatsAppConfig) *WhatsAppClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &WhatsAppClient{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// TemplateIDFor maps an event type string to the configured template id.
func (c *WhatsAppClient) TemplateIDFor(eventType string) string {
	switch eventType {
	case "escalation":
		return c.config.EscalationTemplateID
	case "response_due":
		return c.config.ResponseDueTemplateID
	default:
		return c.config.RequestTemplateID
	}
}

// OTPTemplateID returns the template used for verification codes.
func (c *WhatsAppClient) OTPTemplateID() string {
	return c.config.OTPTemplateID
}

// SendTemplate performs a paid template send with optional quick-reply
// buttons. Returns the provider message id.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, destination, templateID string, params []string, postbacks []Postback) (string, error) {
	if c.config.APIKey == "" {
		return "", permanentf("gupshup whatsapp api key not configured")
	}

	tmpl, err := json.Marshal(map[string]interface{}{
		"id":     templateID,
		"params": params,
	})
	if err != nil {
		return "", permanentf("marshal template: %v", err)
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("channel", "whatsapp")
	args.Set("source", c.config.Source)
	args.Set("destination", destination)
	args.Set("src.name", c.config.AppName)
	args.Set("template", string(tmpl))
	if len(postbacks) > 0 {
		pb, err := json.Marshal(postbacks)
		if err != nil {
			return "", permanentf("marshal postbacks: %v", err)
		}
		args.Set("postbackTexts", string(pb))
	}

	body, err := c.postForm(ctx, c.config.BaseURL+"/wa/api/v1/template/msg", args)
	if err != nil {
		return "", err
	}
	return c.parseMessageID(body, false)
}

// SendSession performs a free session send. A body-level provider error on
// a 2xx response is returned as ErrServiceWindowExpired so the caller can
// substitute a template send.
func (c *WhatsAppClient) SendSession(ctx context.Context, destination string, message interface{}) (string, error) {
	if c.config.APIKey == "" {
		return "", permanentf("gupshup whatsapp api key not configured")
	}

	msg, err := json.Marshal(message)
	if err != nil {
		return "", permanentf("marshal session message: %v", err)
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("channel", "whatsapp")
	args.Set("source", c.config.Source)
	args.Set("destination", destination)
	args.Set("src.name", c.config.AppName)
	args.Set("message", string(msg))

	body, err := c.postForm(ctx, c.config.BaseURL+"/wa/api/v1/msg", args)
	if err != nil {
		return "", err
	}
	return c.parseMessageID(body, true)
}

// SendSessionText sends a plain text session message (e.g. a dashboard link
// reply to a "View Details" tap).
func (c *WhatsAppClient) SendSessionText(ctx context.Context, destination, text string) (string, error) {
	return c.SendSession(ctx, destination, map[string]string{
		"type": "text",
		"text": text,
	})
}

func (c *WhatsAppClient) postForm(ctx context.Context, url string, args *fasthttp.Args) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("apikey", c.config.APIKey)
	args.WriteTo(req.BodyWriter())

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, transientf("gupshup request failed: %v", err)
	}

	statusCode := resp.StatusCode()
	if statusCode >= 500 || statusCode == fasthttp.StatusTooManyRequests {
		return nil, transientf("gupshup server error %d", statusCode)
	}
	if statusCode >= 400 {
		return nil, permanentf("gupshup client error %d: %s", statusCode, truncate(resp.Body(), 200))
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

// parseMessageID inspects a 2xx body. Gupshup signals provider-level errors
// inside successful responses, so success is only a body with a messageId.
func (c *WhatsAppClient) parseMessageID(body []byte, session bool) (string, error) {
	var data struct {
		Status    string `json:"status"`
		MessageID string `json:"messageId"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", permanentf("gupshup response not json: %s", truncate(body, 200))
	}
	if data.Status == "error" {
		if session {
			logger.Warn("session message body error, window likely expired", "message", data.Message)
			return "", ErrServiceWindowExpired
		}
		return "", permanentf("gupshup api error: %s", data.Message)
	}
	if data.MessageID == "" {
		return "", permanentf("gupshup response missing messageId: %s", truncate(body, 200))
	}
	return data.MessageID, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// SessionQuickReply builds the interactive quick-reply session payload.
type SessionQuickReply struct {
	Type    string               `json:"type"`
	MsgID   string               `json:"msgid"`
	Content SessionContent       `json:"content"`
	Options []SessionReplyOption `json:"options"`
}

type SessionContent struct {
	Type   string `json:"type"`
	Header string `json:"header"`
	Text   string `json:"text"`
}

type SessionReplyOption struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	PostbackText string `json:"postbackText"`
}
