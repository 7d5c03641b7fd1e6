package handlers

import (
	"context"

	"github.com/fasthttp/router"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
)

type PushSubscriptionStore interface {
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeactivatePushSubscription(ctx context.Context, endpoint string) error
}

// PushHandler manages browser push endpoints. Subscriptions are upserted by
// endpoint so re-registering from the same browser never duplicates.
type PushHandler struct {
	store       PushSubscriptionStore
	vapidPublic string
}

func RegisterPushRoutes(e *router.Group, h *PushHandler) {
	e.GET("/push/vapid-key", h.GetVAPIDKey)
	e.POST("/push/subscriptions", h.SaveSubscription)
	e.DELETE("/push/subscriptions", h.DeleteSubscription)
}

func NewPushHandler(store PushSubscriptionStore, vapidPublic string) *PushHandler {
	return &PushHandler{store: store, vapidPublic: vapidPublic}
}

type saveSubscriptionRequest struct {
	UserID   int64  `json:"user_id"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) GetVAPIDKey(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, 200, map[string]string{"public_key": h.vapidPublic})
}

func (h *PushHandler) SaveSubscription(ctx *xhttp.RequestCtx) {
	var req saveSubscriptionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == 0 || req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(ctx, 400, "user_id, endpoint, p256dh and auth are required")
		return
	}

	err := h.store.SavePushSubscription(ctx, &model.PushSubscription{
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
		P256dh:   req.P256dh,
		Auth:     req.Auth,
		IsActive: true,
	})
	if err != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	writeJSON(ctx, 201, map[string]string{"status": "subscribed"})
}

func (h *PushHandler) DeleteSubscription(ctx *xhttp.RequestCtx) {
	var req deleteSubscriptionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Endpoint == "" {
		writeError(ctx, 400, "endpoint is required")
		return
	}

	if err := h.store.DeactivatePushSubscription(ctx, req.Endpoint); err != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "unsubscribed"})
}
