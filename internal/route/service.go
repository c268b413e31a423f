package route

import (
	"context"

	"backend-busbuddy/internal/db"

	"github.com/google/uuid"
)

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) CreateRoute(ctx context.Context, input Route) (Route, error) {
	input.ID = uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO routes (id, organization_id, name, description, created_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, input.ID, input.OrganizationID, input.Name, input.Description, input.CreatedBy)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Route{}, err
	}
	return input, nil
}

func (s *Service) GetRoute(ctx context.Context, id string) (Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, organization_id, name, description, created_by, created_at
		FROM routes WHERE id=$1
	`, id)
	var route Route
	if err := row.Scan(&route.ID, &route.OrganizationID, &route.Name, &route.Description, &route.CreatedBy, &route.CreatedAt); err != nil {
		return Route{}, err
	}
	return route, nil
}

func (s *Service) UpdateRoute(ctx context.Context, id string, patch Route) (Route, error) {
	route, err := s.GetRoute(ctx, id)
	if err != nil {
		return Route{}, err
	}
	if patch.Name != "" {
		route.Name = patch.Name
	}
	if patch.Description != "" {
		route.Description = patch.Description
	}

	_, err = s.db.Exec(ctx, `
		UPDATE routes SET name=$2, description=$3 WHERE id=$1
	`, route.ID, route.Name, route.Description)
	if err != nil {
		return Route{}, err
	}
	return route, nil
}

func (s *Service) AddStop(ctx context.Context, input Stop) (Stop, error) {
	input.ID = uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO route_stops (id, route_id, name, latitude, longitude, order_index, scheduled_arrival_minutes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, input.ID, input.RouteID, input.Name, input.Latitude, input.Longitude, input.OrderIndex, input.ScheduledArrivalMinutes)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Stop{}, err
	}
	return input, nil
}

// Stops returns the route's stops in sequence order.
func (s *Service) Stops(ctx context.Context, routeID string) ([]Stop, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, route_id, name, latitude, longitude, order_index, scheduled_arrival_minutes, created_at
		FROM route_stops WHERE route_id=$1
		ORDER BY order_index
	`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []Stop
	for rows.Next() {
		var st Stop
		if err := rows.Scan(&st.ID, &st.RouteID, &st.Name, &st.Latitude, &st.Longitude, &st.OrderIndex, &st.ScheduledArrivalMinutes, &st.CreatedAt); err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, nil
}
