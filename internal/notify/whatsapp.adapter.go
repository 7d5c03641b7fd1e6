package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	gateway "github.com/adisharma29/tripcompass-sub000/internal/gateways"
	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
)

// DeliveryWriter is the ledger surface the channel adapters need.
type DeliveryWriter interface {
	GetOrCreate(ctx context.Context, rec *model.DeliveryRecord) (*model.DeliveryRecord, bool, error)
	ExistsForRequestTier(ctx context.Context, requestID int64, tier int, channel model.Channel, target string) (bool, error)
}

// WindowReader checks whether a phone has an open service window.
type WindowReader interface {
	Get(ctx context.Context, hotelID int64, phone string) (*model.WhatsAppServiceWindow, error)
}

// WhatsAppAdapter records one delivery per matching route and enqueues the
// provider call. Targets inside an open service window get a free session
// message; everyone else gets the paid template.
type WhatsAppAdapter struct {
	deliveries     DeliveryWriter
	routes         RouteFinder
	windows        WindowReader
	queue          JobPublisher
	content        *ContentBuilder
	templates      TemplatePicker
	windowDuration time.Duration
}

// TemplatePicker resolves the provider template id for an event type.
// Satisfied by *gateway.WhatsAppClient.
type TemplatePicker interface {
	TemplateIDFor(eventType string) string
}

func NewWhatsAppAdapter(deliveries DeliveryWriter, routes RouteFinder, windows WindowReader, queue JobPublisher, content *ContentBuilder, templates TemplatePicker, windowDuration time.Duration) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		deliveries:     deliveries,
		routes:         routes,
		windows:        windows,
		queue:          queue,
		content:        content,
		templates:      templates,
		windowDuration: windowDuration,
	}
}

func (a *WhatsAppAdapter) Name() string { return "whatsapp" }

func (a *WhatsAppAdapter) Notify(ctx context.Context, e *Event) error {
	if !e.IsRequestEvent() {
		return nil
	}
	if !e.Hotel.WhatsAppNotificationsEnabled {
		return nil
	}

	routes, err := resolveRoutes(ctx, a.routes, e, model.ChannelWhatsApp)
	if err != nil {
		return fmt.Errorf("resolve routes: %w", err)
	}

	var lastErr error
	for _, route := range routes {
		if err := a.notifyRoute(ctx, e, route); err != nil {
			logger.Error("whatsapp route delivery failed",
				"route", route.ID, "target", route.Target, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (a *WhatsAppAdapter) notifyRoute(ctx context.Context, e *Event, route *model.NotificationRoute) error {
	tier := e.EscalationTier
	messageType := model.MessageTypeTemplate
	if a.windowOpen(ctx, e.Hotel.ID, route.Target) {
		messageType = model.MessageTypeSession
	}

	rec := &model.DeliveryRecord{
		IdempotencyKey: model.RouteDeliveryKey(e.Type, e.PublicID(), tier, route.ID),
		HotelID:        e.Hotel.ID,
		RouteID:        &route.ID,
		RequestID:      &e.Request.ID,
		EscalationTier: &tier,
		Channel:        model.ChannelWhatsApp,
		Target:         route.Target,
		EventType:      e.Type,
		Status:         model.DeliveryStatusQueued,
		MessageType:    messageType,
	}

	rec, created, err := a.deliveries.GetOrCreate(ctx, rec)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	job := a.buildJob(e, rec)
	pg.OnCommit(ctx, func() {
		if _, err := a.queue.PublishJSON(context.Background(), job, nil); err != nil {
			logger.Error("enqueue whatsapp job failed", "delivery", rec.ID, "error", err)
		}
	})
	return nil
}

func (a *WhatsAppAdapter) buildJob(e *Event, rec *model.DeliveryRecord) *DeliveryJob {
	if rec.MessageType == model.MessageTypeSession {
		// Session jobs also carry the template content so an expired window
		// can be demoted to a template send without re-rendering.
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

func (a *WhatsAppAdapter) windowOpen(ctx context.Context, hotelID int64, phone string) bool {
	window, err := a.windows.Get(ctx, hotelID, phone)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("service window lookup failed", "phone", phone, "error", err)
		}
		return false
	}
	return window.Active(time.Now(), a.windowDuration)
}

var _ TemplatePicker = (*gateway.WhatsAppClient)(nil)
