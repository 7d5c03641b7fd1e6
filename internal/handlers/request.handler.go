package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
)

type RequestService interface {
	Create(ctx context.Context, p model.RequestCreateParams) (*model.ServiceRequest, error)
	Acknowledge(ctx context.Context, publicID, channel, actor string) (*model.ServiceRequest, bool, error)
}

type RequestReader interface {
	GetByPublicID(ctx context.Context, publicID string) (*model.ServiceRequest, error)
}

type RequestHandler struct {
	svc    RequestService
	reader RequestReader
}

func RegisterRequestRoutes(e *router.Group, h *RequestHandler) {
	e.POST("/requests", h.CreateRequest)
	e.GET("/requests/{public_id}", h.GetRequest)
	e.POST("/requests/{public_id}/acknowledge", h.AcknowledgeRequest)
}

func NewRequestHandler(svc RequestService, reader RequestReader) *RequestHandler {
	return &RequestHandler{svc: svc, reader: reader}
}

type createRequestRequest struct {
	HotelID      int64  `json:"hotel_id"`
	DepartmentID int64  `json:"department_id"`
	ExperienceID *int64 `json:"experience_id"`
	EventID      *int64 `json:"event_id"`
	OfferingID   *int64 `json:"offering_id"`
	RoomNumber   string `json:"room_number"`
	GuestName    string `json:"guest_name"`
	RequestType  string `json:"request_type"`
}

type acknowledgeRequestRequest struct {
	Actor string `json:"actor"`
}

func (h *RequestHandler) CreateRequest(ctx *xhttp.RequestCtx) {
	var req createRequestRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	created, err := h.svc.Create(ctx, model.RequestCreateParams{
		HotelID:      req.HotelID,
		DepartmentID: req.DepartmentID,
		ExperienceID: req.ExperienceID,
		EventID:      req.EventID,
		OfferingID:   req.OfferingID,
		RoomNumber:   req.RoomNumber,
		GuestName:    req.GuestName,
		RequestType:  req.RequestType,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRequestRateLimited):
			writeError(ctx, 429, err.Error())
		case errors.Is(err, services.ErrHotelInactive),
			errors.Is(err, repository.ErrNotFound):
			writeError(ctx, 404, err.Error())
		default:
			writeError(ctx, 400, err.Error())
		}
		return
	}
	writeJSON(ctx, 201, created)
}

func (h *RequestHandler) GetRequest(ctx *xhttp.RequestCtx) {
	publicID := routeParam(ctx, "public_id")
	req, err := h.reader.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(ctx, 404, "request not found")
			return
		}
		writeError(ctx, 500, "internal error")
		return
	}
	ctx.Response.Header.Set("Cache-Control", "no-store")
	writeJSON(ctx, 200, req)
}

func (h *RequestHandler) AcknowledgeRequest(ctx *xhttp.RequestCtx) {
	var req acknowledgeRequestRequest
	if err := readJSON(ctx, &req); err != nil && len(ctx.PostBody()) > 0 {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	publicID := routeParam(ctx, "public_id")
	acked, won, err := h.svc.Acknowledge(ctx, publicID, "dashboard", req.Actor)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(ctx, 404, "request not found")
			return
		}
		writeError(ctx, 500, "internal error")
		return
	}
	writeJSON(ctx, 200, map[string]interface{}{
		"request":      acked,
		"acknowledged": won,
	})
}
