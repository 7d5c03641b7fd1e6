package notify

import (
	"context"
	"errors"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
)

// OncallAdapter notifies the hotel's on-call contacts on every escalation.
// It runs after the route adapters and skips a contact that a route already
// covered for the same request and tier, so the on-call person is not
// messaged twice.
type OncallAdapter struct {
	deliveries     DeliveryWriter
	windows        WindowReader
	queue          JobPublisher
	content        *ContentBuilder
	templates      TemplatePicker
	windowDuration time.Duration
}

func NewOncallAdapter(deliveries DeliveryWriter, windows WindowReader, queue JobPublisher, content *ContentBuilder, templates TemplatePicker, windowDuration time.Duration) *OncallAdapter {
	return &OncallAdapter{
		deliveries:     deliveries,
		windows:        windows,
		queue:          queue,
		content:        content,
		templates:      templates,
		windowDuration: windowDuration,
	}
}

func (a *OncallAdapter) Name() string { return "oncall" }

func (a *OncallAdapter) Notify(ctx context.Context, e *Event) error {
	if e.Type != model.EventEscalation || !e.IsRequestEvent() {
		return nil
	}

	var lastErr error
	if e.Hotel.OncallWhatsAppEnabled() {
		if err := a.notifyContact(ctx, e, model.ChannelWhatsApp, e.Hotel.OncallPhone); err != nil {
			logger.Error("oncall whatsapp delivery failed", "target", e.Hotel.OncallPhone, "error", err)
			lastErr = err
		}
	}
	if e.Hotel.OncallEmailEnabled() {
		if err := a.notifyContact(ctx, e, model.ChannelEmail, e.Hotel.OncallEmail); err != nil {
			logger.Error("oncall email delivery failed", "target", e.Hotel.OncallEmail, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (a *OncallAdapter) notifyContact(ctx context.Context, e *Event, channel model.Channel, target string) error {
	exists, err := a.deliveries.ExistsForRequestTier(ctx, e.Request.ID, e.EscalationTier, channel, target)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tier := e.EscalationTier
	rec := &model.DeliveryRecord{
		IdempotencyKey: model.OncallDeliveryKey(channel, e.Type, e.PublicID(), tier),
		HotelID:        e.Hotel.ID,
		RequestID:      &e.Request.ID,
		EscalationTier: &tier,
		Channel:        channel,
		Target:         target,
		EventType:      e.Type,
		Status:         model.DeliveryStatusQueued,
	}
	if channel == model.ChannelWhatsApp && a.windowOpen(ctx, e.Hotel.ID, target) {
		rec.MessageType = model.MessageTypeSession
	}

	rec, created, err := a.deliveries.GetOrCreate(ctx, rec)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	job := a.buildJob(e, rec, channel)
	pg.OnCommit(ctx, func() {
		if _, err := a.queue.PublishJSON(context.Background(), job, nil); err != nil {
			logger.Error("enqueue oncall job failed", "delivery", rec.ID, "error", err)
		}
	})
	return nil
}

func (a *OncallAdapter) buildJob(e *Event, rec *model.DeliveryRecord, channel model.Channel) *DeliveryJob {
	if channel == model.ChannelEmail {
		return &DeliveryJob{
			Kind:       JobEmail,
			DeliveryID: rec.ID,
			Subject:    a.content.EmailSubject(e),
			HTML:       a.content.EmailHTML(e),
		}
	}
	if rec.MessageType == model.MessageTypeSession {
		return &DeliveryJob{
			Kind:         JobWhatsAppSession,
			DeliveryID:   rec.ID,
			SessionText:  a.content.SessionText(e),
			ReplyOptions: a.content.SessionReplyOptions(e),
			Postbacks:    a.content.Postbacks(e),
			TemplateID:   a.templates.TemplateIDFor(string(e.Type)),
			Params:       a.content.TemplateParams(e),
		}
	}
	return &DeliveryJob{
		Kind:       JobWhatsAppTemplate,
		DeliveryID: rec.ID,
		TemplateID: a.templates.TemplateIDFor(string(e.Type)),
		Params:     a.content.TemplateParams(e),
		Postbacks:  a.content.Postbacks(e),
	}
}

func (a *OncallAdapter) windowOpen(ctx context.Context, hotelID int64, phone string) bool {
	window, err := a.windows.Get(ctx, hotelID, phone)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("service window lookup failed", "phone", phone, "error", err)
		}
		return false
	}
	return window.Active(time.Now(), a.windowDuration)
}
