package gateway

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// SMSConfig carries the Gupshup Enterprise SMS credentials.
type SMSConfig struct {
	BaseURL    string
	UserID     string
	Password   string
	SenderMask string
	Timeout    time.Duration
}

// SMSClient sends one-time codes through the Gupshup Enterprise SMS API.
// The API answers with a pipe-separated text line, not JSON.
type SMSClient struct {
	config SMSConfig
	client *fasthttp.Client
}

func NewSMSClient(config SMSConfig) *SMSClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &SMSClient{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// SendOTP delivers msg (already containing the code) to phone.
func (c *SMSClient) SendOTP(ctx context.Context, phone, msg string, codeLength int) error {
	if c.config.UserID == "" {
		return permanentf("gupshup sms credentials not configured")
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("method", "TWO_FACTOR_AUTH")
	args.Set("userid", c.config.UserID)
	args.Set("password", c.config.Password)
	args.Set("phone_no", phone)
	args.Set("msg", msg)
	args.Set("otpCodeLength", strconv.Itoa(codeLength))
	args.Set("otpCodeType", "NUMERIC")
	args.Set("v", "1.1")
	args.Set("format", "text")
	args.Set("mask", c.config.SenderMask)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + "/GatewayAPI/rest")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	args.WriteTo(req.BodyWriter())

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return transientf("gupshup sms request failed: %v", err)
	}

	statusCode := resp.StatusCode()
	if statusCode >= 500 || statusCode == fasthttp.StatusTooManyRequests {
		return transientf("gupshup sms server error %d", statusCode)
	}
	if statusCode >= 400 {
		return permanentf("gupshup sms client error %d: %s", statusCode, truncate(resp.Body(), 200))
	}

	// "success | <phone> | <message id>" or "error | <code> | <reason>"
	parts := strings.Split(strings.TrimSpace(string(resp.Body())), "|")
	if strings.ToLower(strings.TrimSpace(parts[0])) != "success" {
		return permanentf("gupshup sms rejected: %s", truncate(resp.Body(), 200))
	}
	return nil
}
