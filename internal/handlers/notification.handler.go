package handlers

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	goredis "github.com/redis/go-redis/v9"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
)

type NotificationStore interface {
	List(ctx context.Context, f model.NotificationFilter) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id, userID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID, hotelID int64) (int64, error)
	CountUnread(ctx context.Context, userID, hotelID int64) (int64, error)
}

type FeedSubscriber interface {
	SubscribeHotel(ctx context.Context, hotelID int64) *goredis.PubSub
	SubscribeUser(ctx context.Context, userID int64) *goredis.PubSub
}

// NotificationHandler serves the in-app bell feed and the live event
// streams. Identity comes from the user_id parameter; session handling is
// owned by the surrounding platform.
type NotificationHandler struct {
	store NotificationStore
	feed  FeedSubscriber
}

func RegisterNotificationRoutes(e *router.Group, h *NotificationHandler) {
	e.GET("/notifications", h.ListNotifications)
	e.GET("/notifications/unread-count", h.UnreadCount)
	e.POST("/notifications/{id}/read", h.MarkRead)
	e.POST("/notifications/read-all", h.MarkAllRead)
	e.GET("/events/hotels/{hotel_id}", h.StreamHotelEvents)
	e.GET("/events/users/{user_id}", h.StreamUserEvents)
}

func NewNotificationHandler(store NotificationStore, feed FeedSubscriber) *NotificationHandler {
	return &NotificationHandler{store: store, feed: feed}
}

func (h *NotificationHandler) ListNotifications(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}
	hotelID, err := queryInt64(ctx, "hotel_id")
	if err != nil {
		writeError(ctx, 400, "hotel_id is required")
		return
	}

	f := model.NotificationFilter{
		UserID:  userID,
		HotelID: hotelID,
		Limit:   50,
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if query(ctx, "unread_only") == "true" {
		f.UnreadOnly = true
	}

	items, err := h.store.List(ctx, f)
	if err != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	writeJSON(ctx, 200, map[string]interface{}{"items": items})
}

func (h *NotificationHandler) UnreadCount(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}
	hotelID, err := queryInt64(ctx, "hotel_id")
	if err != nil {
		writeError(ctx, 400, "hotel_id is required")
		return
	}

	count, err := h.store.CountUnread(ctx, userID, hotelID)
	if err != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	writeJSON(ctx, 200, map[string]int64{"unread": count})
}

func (h *NotificationHandler) MarkRead(ctx *xhttp.RequestCtx) {
	id, err := strconv.ParseInt(routeParam(ctx, "id"), 10, 64)
	if err != nil {
		writeError(ctx, 400, "invalid notification id")
		return
	}
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}

	updated, err := h.store.MarkRead(ctx, id, userID)
	if err != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	if !updated {
		writeError(ctx, 404, "notification not found")
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "read"})
}

func (h *NotificationHandler) MarkAllRead(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "user_id is required")
		return
	}
	hotelID, err := queryInt64(ctx, "hotel_id")
	if err != nil {
		writeError(ctx, 400, "hotel_id is required")
		return
	}

	updated, err := h.store.MarkAllRead(ctx, userID, hotelID)
	if err != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	writeJSON(ctx, 200, map[string]int64{"updated": updated})
}

func (h *NotificationHandler) StreamHotelEvents(ctx *xhttp.RequestCtx) {
	hotelID, err := strconv.ParseInt(routeParam(ctx, "hotel_id"), 10, 64)
	if err != nil {
		writeError(ctx, 400, "invalid hotel id")
		return
	}
	// The subscription must outlive this handler: the stream writer runs
	// after the handler returns.
	sub := h.feed.SubscribeHotel(context.Background(), hotelID)
	streamSSE(ctx, sub)
}

func (h *NotificationHandler) StreamUserEvents(ctx *xhttp.RequestCtx) {
	userID, err := strconv.ParseInt(routeParam(ctx, "user_id"), 10, 64)
	if err != nil {
		writeError(ctx, 400, "invalid user id")
		return
	}
	sub := h.feed.SubscribeUser(context.Background(), userID)
	streamSSE(ctx, sub)
}

// streamSSE relays pub/sub messages as server-sent events until the client
// disconnects. Periodic comments keep idle connections from being reaped by
// proxies.
func streamSSE(ctx *xhttp.RequestCtx, sub *goredis.PubSub) {
	ctx.Response.Header.Set("Content-Type", "text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		ch := sub.Channel()
		keepalive := time.NewTicker(25 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
				if err := w.Flush(); err != nil {
					return
				}
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}
