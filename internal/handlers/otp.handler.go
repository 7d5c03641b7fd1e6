package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
)

type OTPService interface {
	SendPhoneOTP(ctx context.Context, phone, ip string, hotelID *int64) (*model.OTPCode, error)
	VerifyPhoneOTP(ctx context.Context, phone, code string, hotelID *int64) (*model.OTPCode, error)
	SendEmailOTP(ctx context.Context, email, ip string) error
	VerifyEmailOTP(ctx context.Context, email, code string) (*model.HotelMembership, error)
}

type OTPHandler struct {
	svc OTPService
}

func RegisterOTPRoutes(e *router.Group, h *OTPHandler) {
	e.POST("/otp/phone/send", h.SendPhoneOTP)
	e.POST("/otp/phone/verify", h.VerifyPhoneOTP)
	e.POST("/otp/email/send", h.SendEmailOTP)
	e.POST("/otp/email/verify", h.VerifyEmailOTP)
}

func NewOTPHandler(svc OTPService) *OTPHandler {
	return &OTPHandler{svc: svc}
}

type sendPhoneOTPRequest struct {
	Phone   string `json:"phone"`
	HotelID *int64 `json:"hotel_id"`
}

type verifyPhoneOTPRequest struct {
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	HotelID *int64 `json:"hotel_id"`
}

type sendEmailOTPRequest struct {
	Email string `json:"email"`
}

type verifyEmailOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *OTPHandler) SendPhoneOTP(ctx *xhttp.RequestCtx) {
	var req sendPhoneOTPRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Phone == "" {
		writeError(ctx, 400, "phone is required")
		return
	}

	otp, err := h.svc.SendPhoneOTP(ctx, req.Phone, clientIP(ctx), req.HotelID)
	if err != nil {
		writeOTPError(ctx, err)
		return
	}
	writeJSON(ctx, 202, map[string]interface{}{
		"status":     "sent",
		"channel":    otp.Channel,
		"expires_at": otp.ExpiresAt,
	})
}

func (h *OTPHandler) VerifyPhoneOTP(ctx *xhttp.RequestCtx) {
	var req verifyPhoneOTPRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Phone == "" || req.Code == "" {
		writeError(ctx, 400, "phone and code are required")
		return
	}

	if _, err := h.svc.VerifyPhoneOTP(ctx, req.Phone, req.Code, req.HotelID); err != nil {
		writeOTPError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]string{"status": "verified"})
}

func (h *OTPHandler) SendEmailOTP(ctx *xhttp.RequestCtx) {
	var req sendEmailOTPRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Email == "" {
		writeError(ctx, 400, "email is required")
		return
	}

	if err := h.svc.SendEmailOTP(ctx, req.Email, clientIP(ctx)); err != nil {
		writeOTPError(ctx, err)
		return
	}
	writeJSON(ctx, 202, map[string]string{"status": "sent"})
}

func (h *OTPHandler) VerifyEmailOTP(ctx *xhttp.RequestCtx) {
	var req verifyEmailOTPRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Email == "" || req.Code == "" {
		writeError(ctx, 400, "email and code are required")
		return
	}

	membership, err := h.svc.VerifyEmailOTP(ctx, req.Email, req.Code)
	if err != nil {
		writeOTPError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]interface{}{
		"status":        "verified",
		"membership_id": membership.ID,
		"hotel_id":      membership.HotelID,
		"role":          membership.Role,
	})
}

func writeOTPError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrOTPRateLimited):
		writeError(ctx, 429, err.Error())
	case errors.Is(err, model.ErrOTPMaxAttempts):
		writeError(ctx, 429, err.Error())
	case errors.Is(err, model.ErrOTPInvalid):
		writeError(ctx, 400, err.Error())
	case errors.Is(err, services.ErrNoStaffAccount):
		writeError(ctx, 403, err.Error())
	case errors.Is(err, model.ErrOTPDelivery):
		writeError(ctx, 502, err.Error())
	default:
		writeError(ctx, 500, "internal error")
	}
}
