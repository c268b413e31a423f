package route

import "time"

type Route struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stop is one scheduled stop on a route. OrderIndex defines the strict
// route sequence; ScheduledArrivalMinutes is minutes after trip start and
// is nil for stops without a published schedule.
type Stop struct {
	ID                      string    `json:"id"`
	RouteID                 string    `json:"route_id"`
	Name                    string    `json:"name"`
	Latitude                float64   `json:"latitude"`
	Longitude               float64   `json:"longitude"`
	OrderIndex              int       `json:"order_index"`
	ScheduledArrivalMinutes *int      `json:"scheduled_arrival_minutes,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}
