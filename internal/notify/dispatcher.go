package notify

import (
	"context"
	"sort"
	"time"

	"github.com/adisharma29/tripcompass-sub000/internal/model"
	"github.com/adisharma29/tripcompass-sub000/pkg/logger"
	"github.com/adisharma29/tripcompass-sub000/pkg/prom"
)

// Adapter fans one event out on a single channel. Implementations record
// deliveries and enqueue provider work; they never call providers directly.
type Adapter interface {
	Name() string
	Notify(ctx context.Context, event *Event) error
}

// JobPublisher enqueues delivery jobs. Satisfied by *queue.Queue.
type JobPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// Dispatcher runs the adapters in a fixed order. One adapter failing never
// stops the others; errors are logged and counted, and the last one is
// returned so callers can surface partial failure.
type Dispatcher struct {
	adapters []Adapter
}

func NewDispatcher(adapters ...Adapter) *Dispatcher {
	return &Dispatcher{adapters: adapters}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	start := time.Now()
	var lastErr error

	for _, adapter := range d.adapters {
		if err := adapter.Notify(ctx, event); err != nil {
			logger.Error("adapter failed",
				"adapter", adapter.Name(),
				"event_type", event.Type,
				"request", event.PublicID(),
				"error", err)
			lastErr = err
		}
	}

	prom.AddDispatchDuration(time.Since(start).Seconds(), string(event.Type))
	return lastErr
}

// resolveRoutes unions the route scopes an event matches on one channel:
// department routes (unless a calendar event opts the department out),
// event routes, and offering routes. The union is ordered by (target, id)
// and deduplicated by target, so the lowest-id route for a target wins no
// matter which scope it came from.
func resolveRoutes(ctx context.Context, repo RouteFinder, e *Event, channel model.Channel) ([]*model.NotificationRoute, error) {
	var routes []*model.NotificationRoute

	var experienceID *int64
	if e.Request != nil {
		experienceID = e.Request.ExperienceID
	}

	notifyDepartment := e.CalendarEvent == nil || e.CalendarEvent.NotifyDepartment
	if notifyDepartment && e.Department != nil {
		deptRoutes, err := repo.FindForDepartment(ctx, e.Department.ID, experienceID, channel)
		if err != nil {
			return nil, err
		}
		routes = append(routes, deptRoutes...)
	}

	if e.CalendarEvent != nil {
		eventRoutes, err := repo.FindForEvent(ctx, e.CalendarEvent.ID, channel)
		if err != nil {
			return nil, err
		}
		routes = append(routes, eventRoutes...)
	}

	if e.Offering != nil {
		offeringRoutes, err := repo.FindForOffering(ctx, e.Offering.ID, channel)
		if err != nil {
			return nil, err
		}
		routes = append(routes, offeringRoutes...)
	}

	return dedupeByTarget(routes), nil
}

// RouteFinder is the route lookup surface the adapters need.
type RouteFinder interface {
	FindForDepartment(ctx context.Context, departmentID int64, experienceID *int64, channel model.Channel) ([]*model.NotificationRoute, error)
	FindForEvent(ctx context.Context, eventID int64, channel model.Channel) ([]*model.NotificationRoute, error)
	FindForOffering(ctx context.Context, offeringID int64, channel model.Channel) ([]*model.NotificationRoute, error)
}

func dedupeByTarget(routes []*model.NotificationRoute) []*model.NotificationRoute {
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Target != routes[j].Target {
			return routes[i].Target < routes[j].Target
		}
		return routes[i].ID < routes[j].ID
	})

	seen := make(map[string]bool, len(routes))
	unique := make([]*model.NotificationRoute, 0, len(routes))
	for _, route := range routes {
		if seen[route.Target] {
			continue
		}
		seen[route.Target] = true
		unique = append(unique, route)
	}
	return unique
}
