package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
)

type MockOTPService struct {
	mock.Mock
}

func (m *MockOTPService) SendPhoneOTP(ctx context.Context, phone, ip string, hotelID *int64) (*model.OTPCode, error) {
	args := m.Called(ctx, phone, ip, hotelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OTPCode), args.Error(1)
}

func (m *MockOTPService) VerifyPhoneOTP(ctx context.Context, phone, code string, hotelID *int64) (*model.OTPCode, error) {
	args := m.Called(ctx, phone, code, hotelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OTPCode), args.Error(1)
}

func (m *MockOTPService) SendEmailOTP(ctx context.Context, email, ip string) error {
	return m.Called(ctx, email, ip).Error(0)
}

func (m *MockOTPService) VerifyEmailOTP(ctx context.Context, email, code string) (*model.HotelMembership, error) {
	args := m.Called(ctx, email, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HotelMembership), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestOTPHandler_SendPhoneOTP(t *testing.T) {
	t.Run("successful send", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		expires := time.Now().Add(10 * time.Minute)
		svc.On("SendPhoneOTP", mock.Anything, "+15550001111", mock.Anything, (*int64)(nil)).
			Return(&model.OTPCode{ID: 1, Channel: model.OTPChannelWhatsApp, ExpiresAt: expires}, nil)

		body, _ := json.Marshal(sendPhoneOTPRequest{Phone: "+15550001111"})
		ctx := setupTestContext("POST", "/otp/phone/send", body)
		handler.SendPhoneOTP(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, "sent", resp["status"])
		assert.Equal(t, "WHATSAPP", resp["channel"])
		svc.AssertExpectations(t)
	})

	t.Run("missing phone", func(t *testing.T) {
		handler := NewOTPHandler(new(MockOTPService))

		ctx := setupTestContext("POST", "/otp/phone/send", []byte(`{}`))
		handler.SendPhoneOTP(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("rate limited", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("SendPhoneOTP", mock.Anything, "+15550001111", mock.Anything, (*int64)(nil)).
			Return(nil, services.ErrOTPRateLimited)

		body, _ := json.Marshal(sendPhoneOTPRequest{Phone: "+15550001111"})
		ctx := setupTestContext("POST", "/otp/phone/send", body)
		handler.SendPhoneOTP(ctx)

		assert.Equal(t, 429, ctx.Response.StatusCode())
	})

	t.Run("delivery failure", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("SendPhoneOTP", mock.Anything, "+15550001111", mock.Anything, (*int64)(nil)).
			Return(nil, model.ErrOTPDelivery)

		body, _ := json.Marshal(sendPhoneOTPRequest{Phone: "+15550001111"})
		ctx := setupTestContext("POST", "/otp/phone/send", body)
		handler.SendPhoneOTP(ctx)

		assert.Equal(t, 502, ctx.Response.StatusCode())
	})
}

func TestOTPHandler_VerifyPhoneOTP(t *testing.T) {
	t.Run("successful verification", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("VerifyPhoneOTP", mock.Anything, "+15550001111", "123456", (*int64)(nil)).
			Return(&model.OTPCode{ID: 1, IsUsed: true}, nil)

		body, _ := json.Marshal(verifyPhoneOTPRequest{Phone: "+15550001111", Code: "123456"})
		ctx := setupTestContext("POST", "/otp/phone/verify", body)
		handler.VerifyPhoneOTP(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
	})

	t.Run("wrong code", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("VerifyPhoneOTP", mock.Anything, "+15550001111", "000000", (*int64)(nil)).
			Return(nil, model.ErrOTPInvalid)

		body, _ := json.Marshal(verifyPhoneOTPRequest{Phone: "+15550001111", Code: "000000"})
		ctx := setupTestContext("POST", "/otp/phone/verify", body)
		handler.VerifyPhoneOTP(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("too many attempts", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("VerifyPhoneOTP", mock.Anything, "+15550001111", "000000", (*int64)(nil)).
			Return(nil, model.ErrOTPMaxAttempts)

		body, _ := json.Marshal(verifyPhoneOTPRequest{Phone: "+15550001111", Code: "000000"})
		ctx := setupTestContext("POST", "/otp/phone/verify", body)
		handler.VerifyPhoneOTP(ctx)

		assert.Equal(t, 429, ctx.Response.StatusCode())
	})
}

func TestOTPHandler_VerifyEmailOTP(t *testing.T) {
	t.Run("returns the membership", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("VerifyEmailOTP", mock.Anything, "staff@example.com", "123456").
			Return(&model.HotelMembership{ID: 9, HotelID: 4, Role: model.RoleAdmin}, nil)

		body, _ := json.Marshal(verifyEmailOTPRequest{Email: "staff@example.com", Code: "123456"})
		ctx := setupTestContext("POST", "/otp/email/verify", body)
		handler.VerifyEmailOTP(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.EqualValues(t, 9, resp["membership_id"])
		assert.Equal(t, "ADMIN", resp["role"])
	})

	t.Run("no staff account", func(t *testing.T) {
		svc := new(MockOTPService)
		handler := NewOTPHandler(svc)

		svc.On("VerifyEmailOTP", mock.Anything, "ghost@example.com", "123456").
			Return(nil, services.ErrNoStaffAccount)

		body, _ := json.Marshal(verifyEmailOTPRequest{Email: "ghost@example.com", Code: "123456"})
		ctx := setupTestContext("POST", "/otp/email/verify", body)
		handler.VerifyEmailOTP(ctx)

		assert.Equal(t, 403, ctx.Response.StatusCode())
	})
}
