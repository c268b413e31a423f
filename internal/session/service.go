package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-busbuddy/internal/busstatus"
	"backend-busbuddy/internal/db"
	"backend-busbuddy/internal/metrics"
	"backend-busbuddy/internal/shared/geo"
	"backend-busbuddy/internal/stream"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrSessionNotActive  = errors.New("session is not active")
)

var nowFn = time.Now

const sessionColumns = `id, route_id, driver_user_id, status, started_at, completed_at,
		current_stop_id, COALESCE(current_latitude,0), COALESCE(current_longitude,0),
		last_location_update, COALESCE(total_distance_m,0), created_at`

type Service struct {
	db      db.Querier
	hub     *stream.Hub
	metrics *metrics.Collector
}

func NewService(db db.Querier, hub *stream.Hub, m *metrics.Collector) *Service {
	return &Service{db: db, hub: hub, metrics: m}
}

// CreateSession inserts a new pending trip session for a route and driver.
func (s *Service) CreateSession(ctx context.Context, routeID, driverUserID string) (TripSession, error) {
	sess := TripSession{
		ID:           uuid.NewString(),
		RouteID:      routeID,
		DriverUserID: driverUserID,
		Status:       StatusPending,
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO trip_sessions (id, route_id, driver_user_id, status)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, sess.ID, sess.RouteID, sess.DriverUserID, string(sess.Status))
	if err := row.Scan(&sess.CreatedAt); err != nil {
		return TripSession{}, err
	}
	return sess, nil
}

// SetSessionStatus applies a state-machine transition. started_at is
// stamped on the first activation only and survives pause round-trips;
// completed_at is stamped once, on the terminal transition.
func (s *Service) SetSessionStatus(ctx context.Context, id string, target Status) (TripSession, error) {
	var current Status
	var startedAt *time.Time
	row := s.db.QueryRow(ctx, `SELECT status, started_at FROM trip_sessions WHERE id=$1`, id)
	if err := row.Scan(&current, &startedAt); err != nil {
		return TripSession{}, err
	}

	if !canTransition(current, startedAt != nil, target) {
		return TripSession{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	var sess TripSession
	var err error
	switch {
	case target == StatusActive:
		sess, err = s.scanSession(s.db.QueryRow(ctx, `
			UPDATE trip_sessions
			SET status=$2, started_at=COALESCE(started_at, $3)
			WHERE id=$1
			RETURNING `+sessionColumns, id, string(target), nowFn()))
	case target.Terminal():
		sess, err = s.scanSession(s.db.QueryRow(ctx, `
			UPDATE trip_sessions
			SET status=$2, completed_at=$3
			WHERE id=$1
			RETURNING `+sessionColumns, id, string(target), nowFn()))
	default:
		sess, err = s.scanSession(s.db.QueryRow(ctx, `
			UPDATE trip_sessions
			SET status=$2
			WHERE id=$1
			RETURNING `+sessionColumns, id, string(target)))
	}
	if err != nil {
		return TripSession{}, err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(target)).Inc()
	}
	return sess, nil
}

// SetSessionLocation records the latest reported position, stamps
// last_location_update and accumulates travelled distance. Only active
// sessions accept positions.
func (s *Service) SetSessionLocation(ctx context.Context, id string, latitude, longitude float64) (TripSession, error) {
	var status Status
	var prevLat, prevLng float64
	row := s.db.QueryRow(ctx, `
		SELECT status, COALESCE(current_latitude,0), COALESCE(current_longitude,0)
		FROM trip_sessions WHERE id=$1
	`, id)
	if err := row.Scan(&status, &prevLat, &prevLng); err != nil {
		return TripSession{}, err
	}
	if status != StatusActive {
		return TripSession{}, ErrSessionNotActive
	}

	deltaM := 0.0
	if prevLat != 0 || prevLng != 0 {
		deltaM = geo.HaversineKm(prevLat, prevLng, latitude, longitude) * 1000
	}

	sess, err := s.scanSession(s.db.QueryRow(ctx, `
		UPDATE trip_sessions
		SET current_latitude=$2, current_longitude=$3, last_location_update=$4,
		    total_distance_m = COALESCE(total_distance_m,0) + $5
		WHERE id=$1
		RETURNING `+sessionColumns, id, latitude, longitude, nowFn(), deltaM))
	if err != nil {
		return TripSession{}, err
	}

	if s.hub != nil {
		update := PositionUpdate{
			SessionID:  sess.ID,
			RouteID:    sess.RouteID,
			Latitude:   latitude,
			Longitude:  longitude,
			RecordedAt: nowFn(),
		}
		payload, _ := json.Marshal(update)
		s.hub.Broadcast(sess.ID, payload)
	}
	return sess, nil
}

// GetSession loads one session by id.
func (s *Service) GetSession(ctx context.Context, id string) (TripSession, error) {
	return s.scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM trip_sessions WHERE id=$1
	`, id))
}

// ActiveForRoute returns the route's active session, or nil when no bus
// is currently running it.
func (s *Service) ActiveForRoute(ctx context.Context, routeID string) (*TripSession, error) {
	sess, err := s.scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM trip_sessions
		WHERE route_id=$1 AND status='active'
		ORDER BY started_at DESC NULLS LAST
		LIMIT 1
	`, routeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RouteStatus is the rider-facing read: derived status plus a current-stop
// estimate for the route's active session. The estimate is persisted back
// onto the session, which is what feeds the deviation calculation.
func (s *Service) RouteStatus(ctx context.Context, routeID string) (RouteStatus, error) {
	sess, err := s.ActiveForRoute(ctx, routeID)
	if err != nil {
		return RouteStatus{}, err
	}
	if sess == nil {
		return RouteStatus{Status: busstatus.StatusOffline}, nil
	}

	stops, err := s.routeStops(ctx, routeID)
	if err != nil {
		return RouteStatus{}, err
	}

	views := make([]busstatus.Stop, len(stops))
	for i, st := range stops {
		views[i] = busstatus.Stop{
			ID:                      st.ID,
			OrderIndex:              st.OrderIndex,
			ScheduledArrivalMinutes: st.ScheduledArrivalMinutes,
		}
	}

	now := nowFn()
	view := sessionView(sess)
	var currentStop *CurrentStop

	if est := busstatus.EstimateCurrentStop(&view, views, now); est != nil {
		if sess.CurrentStopID == nil || *sess.CurrentStopID != est.ID {
			if _, err := s.db.Exec(ctx, `
				UPDATE trip_sessions SET current_stop_id=$2 WHERE id=$1
			`, sess.ID, est.ID); err != nil {
				return RouteStatus{}, err
			}
			stopID := est.ID
			sess.CurrentStopID = &stopID
		}
		view.CurrentStopID = est.ID
		for i := range stops {
			if stops[i].ID == est.ID {
				currentStop = &stops[i]
				break
			}
		}
	}

	calc := busstatus.Calculate(&view, views, now)
	return RouteStatus{
		Session:               sess,
		Status:                calc.Status,
		MinutesBehindSchedule: calc.MinutesBehindSchedule,
		CurrentStop:           currentStop,
	}, nil
}

func (s *Service) routeStops(ctx context.Context, routeID string) ([]CurrentStop, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, order_index, scheduled_arrival_minutes
		FROM route_stops WHERE route_id=$1
		ORDER BY order_index
	`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []CurrentStop
	for rows.Next() {
		var st CurrentStop
		if err := rows.Scan(&st.ID, &st.Name, &st.OrderIndex, &st.ScheduledArrivalMinutes); err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, nil
}

func (s *Service) scanSession(row pgx.Row) (TripSession, error) {
	var sess TripSession
	if err := row.Scan(
		&sess.ID, &sess.RouteID, &sess.DriverUserID, &sess.Status,
		&sess.StartedAt, &sess.CompletedAt, &sess.CurrentStopID,
		&sess.CurrentLatitude, &sess.CurrentLongitude,
		&sess.LastLocationUpdate, &sess.TotalDistanceM, &sess.CreatedAt,
	); err != nil {
		return TripSession{}, err
	}
	return sess, nil
}

func sessionView(sess *TripSession) busstatus.Session {
	view := busstatus.Session{Status: string(sess.Status)}
	if sess.StartedAt != nil {
		view.StartedAt = *sess.StartedAt
	}
	if sess.LastLocationUpdate != nil {
		view.LastLocationUpdate = *sess.LastLocationUpdate
	}
	if sess.CurrentStopID != nil {
		view.CurrentStopID = *sess.CurrentStopID
	}
	return view
}

// canTransition encodes the trip state machine. Pausing reuses pending on
// an already-started session; completion requires the trip to have run,
// while cancellation is allowed from any non-terminal state.
func canTransition(from Status, started bool, to Status) bool {
	if from.Terminal() || from == to {
		return false
	}
	switch to {
	case StatusActive:
		return from == StatusPending
	case StatusPending:
		return from == StatusActive
	case StatusCompleted:
		return from == StatusActive || (from == StatusPending && started)
	case StatusCancelled:
		return true
	default:
		return false
	}
}
