package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleWindow is one staffed interval in "HH:MM" local time. A start
// later than the end means the window crosses midnight.
type ScheduleWindow [2]string

// DepartmentSchedule describes when a department is staffed. A missing
// Default means open all day; an empty one means never staffed that day.
// Overrides replace the default windows for the named weekday.
type DepartmentSchedule struct {
	Timezone  string                      `json:"timezone,omitempty"`
	Default   []ScheduleWindow            `json:"default"`
	Overrides map[string][]ScheduleWindow `json:"overrides,omitempty"`
}

func (s DepartmentSchedule) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *DepartmentSchedule) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported schedule column type %T", value)
	}
}

// Closed reports whether the given instant falls outside every staffed
// window. Windows that cross midnight count against the day they start,
// so yesterday's overnight window still covers an early-morning instant.
func (s *DepartmentSchedule) Closed(now time.Time) bool {
	local := now.In(s.location())
	clock := local.Format("15:04")

	if clockInWindows(clock, s.windowsFor(local)) {
		return false
	}
	for _, w := range s.windowsFor(local.AddDate(0, 0, -1)) {
		if w[0] > w[1] && clock <= w[1] {
			return false
		}
	}
	return true
}

func (s *DepartmentSchedule) windowsFor(day time.Time) []ScheduleWindow {
	name := strings.ToLower(day.Weekday().String())
	if windows, ok := s.Overrides[name]; ok {
		return windows
	}
	if s.Default != nil {
		return s.Default
	}
	return []ScheduleWindow{{"00:00", "23:59"}}
}

func (s *DepartmentSchedule) location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func clockInWindows(clock string, windows []ScheduleWindow) bool {
	for _, w := range windows {
		start, end := w[0], w[1]
		if start == "" || end == "" {
			continue
		}
		if start <= end {
			if clock >= start && clock <= end {
				return true
			}
		} else if clock >= start || clock <= end {
			return true
		}
	}
	return false
}
