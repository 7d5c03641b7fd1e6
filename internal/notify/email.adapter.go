package notify

import (
	"context"
	"fmt"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
)

// EmailAdapter records one delivery per matching email route and enqueues
// the provider call.
type EmailAdapter struct {
	deliveries DeliveryWriter
	routes     RouteFinder
	queue      JobPublisher
	content    *ContentBuilder
}

func NewEmailAdapter(deliveries DeliveryWriter, routes RouteFinder, queue JobPublisher, content *ContentBuilder) *EmailAdapter {
	return &EmailAdapter{
		deliveries: deliveries,
		routes:     routes,
		queue:      queue,
		content:    content,
	}
}

func (a *EmailAdapter) Name() string { return "email" }

func (a *EmailAdapter) Notify(ctx context.Context, e *Event) error {
	if !e.IsRequestEvent() {
		return nil
	}
	if !e.Hotel.EmailNotificationsEnabled {
		return nil
	}

	routes, err := resolveRoutes(ctx, a.routes, e, model.ChannelEmail)
	if err != nil {
		return fmt.Errorf("resolve routes: %w", err)
	}

	var lastErr error
	for _, route := range routes {
		if err := a.notifyRoute(ctx, e, route); err != nil {
			logger.Error("email route delivery failed",
				"route", route.ID, "target", route.Target, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (a *EmailAdapter) notifyRoute(ctx context.Context, e *Event, route *model.NotificationRoute) error {
	tier := e.EscalationTier
	rec := &model.DeliveryRecord{
		IdempotencyKey: model.EmailDeliveryKey(e.Type, e.PublicID(), tier, route.ID),
		HotelID:        e.Hotel.ID,
		RouteID:        &route.ID,
		RequestID:      &e.Request.ID,
		EscalationTier: &tier,
		Channel:        model.ChannelEmail,
		Target:         route.Target,
		EventType:      e.Type,
		Status:         model.DeliveryStatusQueued,
	}

	rec, created, err := a.deliveries.GetOrCreate(ctx, rec)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	job := &DeliveryJob{
		Kind:       JobEmail,
		DeliveryID: rec.ID,
		Subject:    a.content.EmailSubject(e),
		HTML:       a.content.EmailHTML(e),
	}
	pg.OnCommit(ctx, func() {
		if _, err := a.queue.PublishJSON(context.Background(), job, nil); err != nil {
			logger.Error("enqueue email job failed", "delivery", rec.ID, "error", err)
		}
	})
	return nil
}
