package notify

import (
	"github.com/adisharma29/tripcompass-sub000/internal/model"
)

// Event is the immutable value object describing what happened. It is
// constructed by collaborators (request creation, escalation scan, digest
// generation) and fanned out by the Dispatcher; it is never persisted.
type Event struct {
	Type       model.EventType
	Hotel      *model.Hotel
	Department *model.Department
	Request    *model.ServiceRequest

	// CalendarEvent influences the display name and whether the department
	// is notified; Offering adds an extra routing scope.
	CalendarEvent *CalendarEventRef
	Offering      *OfferingRef

	EscalationTier int

	// Extra carries free-form context, e.g. the original department name
	// for after-hours routing.
	Extra map[string]string
}

// CalendarEventRef is the slice of a calendar event the core needs.
type CalendarEventRef struct {
	ID               int64
	Name             string
	NotifyDepartment bool
}

// OfferingRef is the slice of a special-request offering the core needs.
type OfferingRef struct {
	ID   int64
	Name string
}

// IsRequestEvent reports whether the event is scoped to a single request.
// Daily digests and some after-hours variants are hotel-wide and skip the
// request-scoped adapters.
func (e *Event) IsRequestEvent() bool {
	return e.Request != nil && e.Department != nil
}

// DisplayName is the human label used in notification titles and message
// bodies.
func (e *Event) DisplayName() string {
	if e.CalendarEvent != nil && e.CalendarEvent.Name != "" {
		return e.CalendarEvent.Name
	}
	if e.Offering != nil && e.Offering.Name != "" {
		return e.Offering.Name
	}
	// After-hours events land at the fallback department but are labelled
	// with the department the guest actually asked for.
	if name := e.Extra["original_department_name"]; name != "" {
		return name
	}
	if e.Department != nil {
		return e.Department.Name
	}
	return e.Hotel.Name
}

// PublicID is the request public id, or empty for hotel-wide events.
func (e *Event) PublicID() string {
	if e.Request == nil {
		return ""
	}
	return e.Request.PublicID.String()
}
