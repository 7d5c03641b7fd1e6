package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
)

// EmailConfig carries the Resend API credentials.
type EmailConfig struct {
	BaseURL   string
	APIKey    string
	FromEmail string
	Timeout   time.Duration
}

// EmailTag is one name/value pair attached to an outbound email.
type EmailTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EmailClient sends transactional email through the Resend API.
type EmailClient struct {
	config EmailConfig
	client *fasthttp.Client
}

func NewEmailClient(config EmailConfig) *EmailClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &EmailClient{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// Send delivers one HTML email and returns the provider message id.
func (c *EmailClient) Send(ctx context.Context, to, subject, html string, tags []EmailTag) (string, error) {
	if c.config.APIKey == "" {
		return "", permanentf("resend api key not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"from":    c.config.FromEmail,
		"to":      []string{to},
		"subject": subject,
		"html":    html,
		"tags":    tags,
	})
	if err != nil {
		return "", permanentf("marshal email: %v", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + "/emails")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.SetBody(payload)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return "", transientf("resend request failed: %v", err)
	}

	statusCode := resp.StatusCode()
	if statusCode >= 500 || statusCode == fasthttp.StatusTooManyRequests {
		return "", transientf("resend server error %d", statusCode)
	}
	if statusCode >= 400 {
		return "", permanentf("resend client error %d: %s", statusCode, truncate(resp.Body(), 200))
	}

	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return "", permanentf("resend response not json: %s", truncate(resp.Body(), 200))
	}
	if data.ID == "" {
		return "", permanentf("resend response missing id: %s", truncate(resp.Body(), 200))
	}
	return data.ID, nil
}
