package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/adisharma29/tripcompass-sub000/internal/model"
)

// ErrSubscriptionGone reports a push endpoint that no longer exists; the
// subscription should be deactivated, not retried.
var ErrSubscriptionGone = errors.New("push subscription gone")

// PushConfig carries the VAPID key pair for web push.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	Timeout         time.Duration
}

// PushClient delivers web-push payloads to browser endpoints.
type PushClient struct {
	config PushConfig
}

func NewPushClient(config PushConfig) *PushClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &PushClient{config: config}
}

// Send pushes payload to one subscription endpoint.
func (c *PushClient) Send(ctx context.Context, sub *model.PushSubscription, payload []byte) error {
	if c.config.VAPIDPrivateKey == "" {
		return permanentf("vapid keys not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		Subscriber:      c.config.Subject,
		VAPIDPublicKey:  c.config.VAPIDPublicKey,
		VAPIDPrivateKey: c.config.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		return transientf("web push failed: %v", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == 404 || resp.StatusCode == 410:
		return ErrSubscriptionGone
	case resp.StatusCode >= 500 || resp.StatusCode == 429:
		return transientf("push service error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return permanentf("push service rejected: %d", resp.StatusCode)
	}
	return nil
}
