package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/internal/repository"
	"github.com/adisharma29/tripcompass-sub000/internal/services"
)

type MockRequestService struct {
	mock.Mock
}

func (m *MockRequestService) Create(ctx context.Context, p model.RequestCreateParams) (*model.ServiceRequest, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ServiceRequest), args.Error(1)
}

func (m *MockRequestService) Acknowledge(ctx context.Context, publicID, channel, actor string) (*model.ServiceRequest, bool, error) {
	args := m.Called(ctx, publicID, channel, actor)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.ServiceRequest), args.Bool(1), args.Error(2)
}

type MockRequestReader struct {
	mock.Mock
}

func (m *MockRequestReader) GetByPublicID(ctx context.Context, publicID string) (*model.ServiceRequest, error) {
	args := m.Called(ctx, publicID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ServiceRequest), args.Error(1)
}

func TestRequestHandler_CreateRequest(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))

		publicID := uuid.New()
		svc.On("Create", mock.Anything, mock.MatchedBy(func(p model.RequestCreateParams) bool {
			return p.HotelID == 7 && p.RoomNumber == "204" && p.RequestType == "Housekeeping"
		})).Return(&model.ServiceRequest{
			ID:          11,
			PublicID:    publicID,
			HotelID:     7,
			RoomNumber:  "204",
			RequestType: "Housekeeping",
			Status:      model.RequestStatusCreated,
		}, nil)

		body := []byte(`{"hotel_id":7,"department_id":3,"room_number":"204","request_type":"Housekeeping"}`)
		ctx := setupTestContext("POST", "/requests", body)
		handler.CreateRequest(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		var resp model.ServiceRequest
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, publicID, resp.PublicID)
		assert.Equal(t, model.RequestStatusCreated, resp.Status)
		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))

		ctx := setupTestContext("POST", "/requests", []byte(`{"hotel_id":`))
		handler.CreateRequest(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Create")
	})

	t.Run("room rate limited", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))
		svc.On("Create", mock.Anything, mock.Anything).Return(nil, services.ErrRequestRateLimited)

		ctx := setupTestContext("POST", "/requests", []byte(`{"hotel_id":7,"department_id":3,"room_number":"204","request_type":"Housekeeping"}`))
		handler.CreateRequest(ctx)

		assert.Equal(t, 429, ctx.Response.StatusCode())
	})

	t.Run("inactive hotel", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))
		svc.On("Create", mock.Anything, mock.Anything).Return(nil, services.ErrHotelInactive)

		ctx := setupTestContext("POST", "/requests", []byte(`{"hotel_id":7,"department_id":3,"room_number":"204","request_type":"Housekeeping"}`))
		handler.CreateRequest(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}

func TestRequestHandler_GetRequest(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		reader := new(MockRequestReader)
		handler := NewRequestHandler(new(MockRequestService), reader)

		publicID := uuid.New()
		reader.On("GetByPublicID", mock.Anything, publicID.String()).Return(&model.ServiceRequest{
			ID:       11,
			PublicID: publicID,
			Status:   model.RequestStatusAcknowledged,
		}, nil)

		ctx := setupTestContext("GET", "/requests/"+publicID.String(), nil)
		ctx.SetUserValue("public_id", publicID.String())
		handler.GetRequest(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Equal(t, "no-store", string(ctx.Response.Header.Peek("Cache-Control")))
		var resp model.ServiceRequest
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, model.RequestStatusAcknowledged, resp.Status)
	})

	t.Run("not found", func(t *testing.T) {
		reader := new(MockRequestReader)
		handler := NewRequestHandler(new(MockRequestService), reader)
		reader.On("GetByPublicID", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

		ctx := setupTestContext("GET", "/requests/missing", nil)
		ctx.SetUserValue("public_id", "missing")
		handler.GetRequest(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}

func TestRequestHandler_AcknowledgeRequest(t *testing.T) {
	t.Run("winner", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))

		publicID := uuid.New()
		svc.On("Acknowledge", mock.Anything, publicID.String(), "dashboard", "maria").
			Return(&model.ServiceRequest{PublicID: publicID, Status: model.RequestStatusAcknowledged}, true, nil)

		ctx := setupTestContext("POST", "/requests/"+publicID.String()+"/acknowledge", []byte(`{"actor":"maria"}`))
		ctx.SetUserValue("public_id", publicID.String())
		handler.AcknowledgeRequest(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var resp struct {
			Acknowledged bool `json:"acknowledged"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.True(t, resp.Acknowledged)
		svc.AssertExpectations(t)
	})

	t.Run("empty body is allowed", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))
		svc.On("Acknowledge", mock.Anything, "abc", "dashboard", "").
			Return(&model.ServiceRequest{Status: model.RequestStatusAcknowledged}, false, nil)

		ctx := setupTestContext("POST", "/requests/abc/acknowledge", nil)
		ctx.SetUserValue("public_id", "abc")
		handler.AcknowledgeRequest(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var resp struct {
			Acknowledged bool `json:"acknowledged"`
		}
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.False(t, resp.Acknowledged)
	})

	t.Run("unknown request", func(t *testing.T) {
		svc := new(MockRequestService)
		handler := NewRequestHandler(svc, new(MockRequestReader))
		svc.On("Acknowledge", mock.Anything, "ghost", "dashboard", "").
			Return(nil, false, repository.ErrNotFound)

		ctx := setupTestContext("POST", "/requests/ghost/acknowledge", nil)
		ctx.SetUserValue("public_id", "ghost")
		handler.AcknowledgeRequest(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}
