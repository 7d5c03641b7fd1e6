package repository

import (
	"context"
	"testing"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServiceRequest(hotelID int64) *model.ServiceRequest {
	return &model.ServiceRequest{
		PublicID:     uuid.New(),
		HotelID:      hotelID,
		DepartmentID: 1,
		RoomNumber:   "203",
		GuestName:    "A. Guest",
		RequestType:  "towels",
		Status:       model.RequestStatusCreated,
	}
}

func TestRequestRepository_Acknowledge(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRequestRepository(db)
	ctx := context.Background()

	req, err := repo.Create(ctx, newServiceRequest(1))
	require.NoError(t, err)

	t.Run("first acknowledge wins", func(t *testing.T) {
		ok, err := repo.Acknowledge(ctx, req.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RequestStatusAcknowledged, got.Status)
		assert.NotNil(t, got.AcknowledgedAt)
	})

	t.Run("second acknowledge is a no-op", func(t *testing.T) {
		ok, err := repo.Acknowledge(ctx, req.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRequestRepository_GetByPublicID(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRequestRepository(db)
	ctx := context.Background()

	req, err := repo.Create(ctx, newServiceRequest(1))
	require.NoError(t, err)

	got, err := repo.GetByPublicID(ctx, req.PublicID.String())
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = repo.GetByPublicID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestRepository_InsertEscalation(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRequestRepository(db)
	ctx := context.Background()

	req, err := repo.Create(ctx, newServiceRequest(1))
	require.NoError(t, err)

	t.Run("one row per request and tier", func(t *testing.T) {
		first, err := repo.InsertEscalation(ctx, req.ID, 1, "tier 1 reached")
		require.NoError(t, err)
		require.NotZero(t, first.ID)

		second, err := repo.InsertEscalation(ctx, req.ID, 1, "tier 1 reached")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("tiers are independent", func(t *testing.T) {
		tier1, err := repo.InsertEscalation(ctx, req.ID, 1, "")
		require.NoError(t, err)
		tier2, err := repo.InsertEscalation(ctx, req.ID, 2, "")
		require.NoError(t, err)
		assert.NotEqual(t, tier1.ID, tier2.ID)
	})

	t.Run("non-escalation activities are not deduplicated", func(t *testing.T) {
		err := repo.AddActivity(ctx, &model.RequestActivity{
			RequestID: req.ID,
			Action:    model.ActivityReminded,
		})
		require.NoError(t, err)
		err = repo.AddActivity(ctx, &model.RequestActivity{
			RequestID: req.ID,
			Action:    model.ActivityReminded,
		})
		require.NoError(t, err)
	})
}

func TestRequestRepository_TryClaimEscalation(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRequestRepository(db)
	ctx := context.Background()

	staleness := 5 * time.Minute

	t.Run("claims an unclaimed row", func(t *testing.T) {
		req, err := repo.Create(ctx, newServiceRequest(1))
		require.NoError(t, err)
		activity, err := repo.InsertEscalation(ctx, req.ID, 1, "")
		require.NoError(t, err)

		ok, err := repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("a fresh claim blocks a second claim", func(t *testing.T) {
		req, err := repo.Create(ctx, newServiceRequest(1))
		require.NoError(t, err)
		activity, err := repo.InsertEscalation(ctx, req.ID, 1, "")
		require.NoError(t, err)

		ok, err := repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("a stale claim is reclaimable", func(t *testing.T) {
		req, err := repo.Create(ctx, newServiceRequest(1))
		require.NoError(t, err)
		activity, err := repo.InsertEscalation(ctx, req.ID, 1, "")
		require.NoError(t, err)

		ok, err := repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now().Add(-10*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("notified rows are never reclaimed", func(t *testing.T) {
		req, err := repo.Create(ctx, newServiceRequest(1))
		require.NoError(t, err)
		activity, err := repo.InsertEscalation(ctx, req.ID, 1, "")
		require.NoError(t, err)

		require.NoError(t, repo.MarkEscalationNotified(ctx, activity.ID, time.Now()))

		ok, err := repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("an acknowledged request blocks the claim", func(t *testing.T) {
		req, err := repo.Create(ctx, newServiceRequest(1))
		require.NoError(t, err)
		activity, err := repo.InsertEscalation(ctx, req.ID, 1, "")
		require.NoError(t, err)

		ok, err := repo.Acknowledge(ctx, req.ID, time.Now())
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.TryClaimEscalation(ctx, activity.ID, staleness, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRequestRepository_Reminders(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRequestRepository(db)
	ctx := context.Background()

	due := time.Now().Add(-time.Hour)
	req := newServiceRequest(1)
	req.ResponseDueAt = &due
	created, err := repo.Create(ctx, req)
	require.NoError(t, err)

	t.Run("overdue requests are listed", func(t *testing.T) {
		overdue, err := repo.ListOverdue(ctx, time.Now())
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, created.ID, overdue[0].ID)
	})

	t.Run("reminder is sent once", func(t *testing.T) {
		ok, err := repo.MarkReminderSent(ctx, created.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkReminderSent(ctx, created.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		overdue, err := repo.ListOverdue(ctx, time.Now())
		require.NoError(t, err)
		assert.Len(t, overdue, 0)
	})
}

func TestRequestRepository_Expire(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRequestRepository(db)
	ctx := context.Background()

	stale := newServiceRequest(1)
	stale.CreatedAt = time.Now().Add(-80 * time.Hour)
	created, err := repo.Create(ctx, stale)
	require.NoError(t, err)

	fresh, err := repo.Create(ctx, newServiceRequest(1))
	require.NoError(t, err)

	old, err := repo.ListCreatedOlderThan(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, created.ID, old[0].ID)

	ok, err := repo.Expire(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Expire(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusExpired, got.Status)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCreated, got.Status)
}
