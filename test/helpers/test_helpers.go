package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/pg"
	"github.com/adisharma29/tripcompass-sub000/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&model.Hotel{},
		&model.Department{},
		&model.HotelMembership{},
		&model.PushSubscription{},
		&model.ServiceRequest{},
		&model.RequestActivity{},
		&model.NotificationRoute{},
		&model.DeliveryRecord{},
		&model.Notification{},
		&model.OTPCode{},
		&model.WhatsAppServiceWindow{},
		&model.TaskHeartbeat{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// Unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestHotel(t *testing.T, db *pg.DB, slug string) *model.Hotel {
	ctx := context.Background()
	hotel := &model.Hotel{
		Slug:                         slug,
		Name:                         "Hotel " + slug,
		IsActive:                     true,
		WhatsAppNotificationsEnabled: true,
		EmailNotificationsEnabled:    true,
		EscalationEnabled:            true,
		EscalationTierMinutes:        pq.Int64Array{15, 30, 60},
	}
	require.NoError(t, db.Write(ctx).Create(hotel).Error)
	return hotel
}

func CreateTestDepartment(t *testing.T, db *pg.DB, hotelID int64, name string) *model.Department {
	ctx := context.Background()
	dept := &model.Department{HotelID: hotelID, Slug: name, Name: name}
	require.NoError(t, db.Write(ctx).Create(dept).Error)
	return dept
}

func CreateTestMembership(t *testing.T, db *pg.DB, hotelID int64, departmentID *int64, role model.MembershipRole) *model.HotelMembership {
	ctx := context.Background()
	m := &model.HotelMembership{
		HotelID:      hotelID,
		UserID:       time.Now().UnixNano(),
		DepartmentID: departmentID,
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, db.Write(ctx).Create(m).Error)
	return m
}

func CreateTestRequest(t *testing.T, db *pg.DB, hotelID, departmentID int64, room string) *model.ServiceRequest {
	ctx := context.Background()
	req := &model.ServiceRequest{
		PublicID:     uuid.New(),
		HotelID:      hotelID,
		DepartmentID: departmentID,
		RoomNumber:   room,
		RequestType:  "Housekeeping",
		Status:       model.RequestStatusCreated,
	}
	require.NoError(t, db.Write(ctx).Create(req).Error)
	return req
}

func CreateTestRoute(t *testing.T, db *pg.DB, hotelID, departmentID int64, channel model.Channel, target string) *model.NotificationRoute {
	ctx := context.Background()
	route := &model.NotificationRoute{
		HotelID:      hotelID,
		DepartmentID: &departmentID,
		Channel:      channel,
		Target:       target,
		IsActive:     true,
	}
	require.NoError(t, db.Write(ctx).Create(route).Error)
	return route
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
