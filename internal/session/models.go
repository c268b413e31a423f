package session

import (
	"time"

	"backend-busbuddy/internal/busstatus"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TripSession is one driver operating a vehicle along a route. Sessions
// are never deleted; completed and cancelled are soft-terminal states.
// A pending session with StartedAt set is a paused trip, not a fresh one.
type TripSession struct {
	ID                 string     `json:"id"`
	RouteID            string     `json:"route_id"`
	DriverUserID       string     `json:"driver_user_id"`
	Status             Status     `json:"status"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CurrentStopID      *string    `json:"current_stop_id,omitempty"`
	CurrentLatitude    float64    `json:"current_latitude"`
	CurrentLongitude   float64    `json:"current_longitude"`
	LastLocationUpdate *time.Time `json:"last_location_update,omitempty"`
	TotalDistanceM     float64    `json:"total_distance_m"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Started reports whether the session has ever been active.
func (t TripSession) Started() bool {
	return t.StartedAt != nil
}

// CurrentStop is the deriver's estimate of where the bus is, returned to
// rider displays alongside the status calculation.
type CurrentStop struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	OrderIndex              int    `json:"order_index"`
	ScheduledArrivalMinutes *int   `json:"scheduled_arrival_minutes,omitempty"`
}

type RouteStatus struct {
	Session               *TripSession     `json:"session,omitempty"`
	Status                busstatus.Status `json:"status"`
	MinutesBehindSchedule int              `json:"minutes_behind_schedule"`
	CurrentStop           *CurrentStop     `json:"current_stop,omitempty"`
}

// PositionUpdate is the payload broadcast to live map viewers on every
// accepted location write.
type PositionUpdate struct {
	SessionID  string    `json:"session_id"`
	RouteID    string    `json:"route_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}
