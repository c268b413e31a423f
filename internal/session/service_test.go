package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-busbuddy/internal/busstatus"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var errSession = errors.New("session error")

func sessionRows(t *testing.T, sess TripSession) *pgxmock.Rows {
	t.Helper()
	return pgxmock.NewRows([]string{
		"id", "route_id", "driver_user_id", "status", "started_at", "completed_at",
		"current_stop_id", "current_latitude", "current_longitude",
		"last_location_update", "total_distance_m", "created_at",
	}).AddRow(
		sess.ID, sess.RouteID, sess.DriverUserID, sess.Status, sess.StartedAt, sess.CompletedAt,
		sess.CurrentStopID, sess.CurrentLatitude, sess.CurrentLongitude,
		sess.LastLocationUpdate, sess.TotalDistanceM, sess.CreatedAt,
	)
}

func TestCreateSession(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO trip_sessions`).
		WithArgs(pgxmock.AnyArg(), "route-1", "driver-1", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	svc := NewService(mock, nil, nil)
	sess, err := svc.CreateSession(context.Background(), "route-1", "driver-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID == "" || sess.Status != StatusPending {
		t.Fatalf("expected pending session with id, got %+v", sess)
	}
}

func TestSetSessionStatusActivateStampsStartedAt(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now()
	mock.ExpectQuery(`SELECT status, started_at FROM trip_sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "started_at"}).AddRow(StatusPending, nil))
	mock.ExpectQuery(`UPDATE trip_sessions\s+SET status=\$2, started_at=COALESCE`).
		WithArgs("sess-1", "active", pgxmock.AnyArg()).
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusActive, StartedAt: &started, CreatedAt: started,
		}))

	svc := NewService(mock, nil, nil)
	sess, err := svc.SetSessionStatus(context.Background(), "sess-1", StatusActive)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if sess.Status != StatusActive || sess.StartedAt == nil {
		t.Fatalf("expected active session with started_at, got %+v", sess)
	}
}

func TestSetSessionStatusPauseKeepsStartedAt(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now().Add(-10 * time.Minute)
	mock.ExpectQuery(`SELECT status, started_at FROM trip_sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "started_at"}).AddRow(StatusActive, &started))
	// pause must not touch started_at or completed_at
	mock.ExpectQuery(`UPDATE trip_sessions\s+SET status=\$2\s+WHERE`).
		WithArgs("sess-1", "pending").
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusPending, StartedAt: &started, CreatedAt: started,
		}))

	svc := NewService(mock, nil, nil)
	sess, err := svc.SetSessionStatus(context.Background(), "sess-1", StatusPending)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if sess.StartedAt == nil || !sess.StartedAt.Equal(started) {
		t.Fatalf("expected started_at preserved across pause")
	}
}

func TestSetSessionStatusCompleteStampsCompletedAt(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now().Add(-30 * time.Minute)
	completed := time.Now()
	mock.ExpectQuery(`SELECT status, started_at FROM trip_sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "started_at"}).AddRow(StatusActive, &started))
	mock.ExpectQuery(`UPDATE trip_sessions\s+SET status=\$2, completed_at=\$3`).
		WithArgs("sess-1", "completed", pgxmock.AnyArg()).
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusCompleted, StartedAt: &started, CompletedAt: &completed, CreatedAt: started,
		}))

	svc := NewService(mock, nil, nil)
	sess, err := svc.SetSessionStatus(context.Background(), "sess-1", StatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if sess.CompletedAt == nil {
		t.Fatalf("expected completed_at stamped")
	}
}

func TestSetSessionStatusInvalidTransitions(t *testing.T) {
	cases := []struct {
		name    string
		current Status
		started bool
		target  Status
	}{
		{"terminal to active", StatusCompleted, true, StatusActive},
		{"terminal to cancelled", StatusCancelled, true, StatusCancelled},
		{"pause without active", StatusPending, false, StatusPending},
		{"complete never-started", StatusPending, false, StatusCompleted},
		{"active to active", StatusActive, true, StatusActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
			if err != nil {
				t.Fatalf("mock pool: %v", err)
			}
			defer mock.Close()

			var started *time.Time
			if tc.started {
				ts := time.Now()
				started = &ts
			}
			mock.ExpectQuery(`SELECT status, started_at FROM trip_sessions`).
				WithArgs("sess-1").
				WillReturnRows(pgxmock.NewRows([]string{"status", "started_at"}).AddRow(tc.current, started))

			svc := NewService(mock, nil, nil)
			_, err = svc.SetSessionStatus(context.Background(), "sess-1", tc.target)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestSetSessionStatusCancelFreshPending(t *testing.T) {
	// start rollback: a pending session that never ran may be cancelled
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	completed := time.Now()
	mock.ExpectQuery(`SELECT status, started_at FROM trip_sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "started_at"}).AddRow(StatusPending, nil))
	mock.ExpectQuery(`UPDATE trip_sessions\s+SET status=\$2, completed_at=\$3`).
		WithArgs("sess-1", "cancelled", pgxmock.AnyArg()).
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusCancelled, CompletedAt: &completed, CreatedAt: completed,
		}))

	svc := NewService(mock, nil, nil)
	sess, err := svc.SetSessionStatus(context.Background(), "sess-1", StatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sess.Status != StatusCancelled {
		t.Fatalf("expected cancelled session")
	}
}

func TestSetSessionLocation(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now().Add(-5 * time.Minute)
	updated := time.Now()
	mock.ExpectQuery(`SELECT status, COALESCE\(current_latitude,0\), COALESCE\(current_longitude,0\)`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "lat", "lng"}).AddRow(StatusActive, 0.0, 0.0))
	mock.ExpectQuery(`UPDATE trip_sessions\s+SET current_latitude=\$2`).
		WithArgs("sess-1", 42.36, -71.05, pgxmock.AnyArg(), 0.0).
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusActive, StartedAt: &started,
			CurrentLatitude: 42.36, CurrentLongitude: -71.05,
			LastLocationUpdate: &updated, CreatedAt: started,
		}))

	svc := NewService(mock, nil, nil)
	sess, err := svc.SetSessionLocation(context.Background(), "sess-1", 42.36, -71.05)
	if err != nil {
		t.Fatalf("set location: %v", err)
	}
	if sess.LastLocationUpdate == nil {
		t.Fatalf("expected last_location_update stamped")
	}
}

func TestSetSessionLocationAccumulatesDistance(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now()
	mock.ExpectQuery(`SELECT status, COALESCE\(current_latitude,0\), COALESCE\(current_longitude,0\)`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "lat", "lng"}).AddRow(StatusActive, 42.36, -71.05))
	mock.ExpectQuery(`UPDATE trip_sessions\s+SET current_latitude=\$2`).
		WithArgs("sess-1", 42.37, -71.05, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusActive, StartedAt: &started, TotalDistanceM: 1100, CreatedAt: started,
		}))

	svc := NewService(mock, nil, nil)
	sess, err := svc.SetSessionLocation(context.Background(), "sess-1", 42.37, -71.05)
	if err != nil {
		t.Fatalf("set location: %v", err)
	}
	if sess.TotalDistanceM == 0 {
		t.Fatalf("expected accumulated distance")
	}
}

func TestSetSessionLocationRejectsInactive(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT status, COALESCE\(current_latitude,0\), COALESCE\(current_longitude,0\)`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "lat", "lng"}).AddRow(StatusPending, 0.0, 0.0))

	svc := NewService(mock, nil, nil)
	_, err = svc.SetSessionLocation(context.Background(), "sess-1", 42.36, -71.05)
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestActiveForRouteNone(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil, nil)
	sess, err := svc.ActiveForRoute(context.Background(), "route-1")
	if err != nil {
		t.Fatalf("active for route: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session when none active")
	}
}

func TestRouteStatusNoActiveSession(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)

	svc := NewService(mock, nil, nil)
	status, err := svc.RouteStatus(context.Background(), "route-1")
	if err != nil {
		t.Fatalf("route status: %v", err)
	}
	if status.Status != busstatus.StatusOffline || status.Session != nil {
		t.Fatalf("expected offline without session, got %+v", status)
	}
}

func TestRouteStatusDelayedAndStopUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now().Add(-16 * time.Minute)
	updated := time.Now()
	ten := 10
	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-1").
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusActive, StartedAt: &started,
			LastLocationUpdate: &updated, CreatedAt: started,
		}))
	mock.ExpectQuery(`SELECT id, name, order_index, scheduled_arrival_minutes`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "order_index", "scheduled_arrival_minutes"}).
			AddRow("stop-1", "Gate", 0, intPtr(0)).
			AddRow("stop-2", "Library", 1, &ten))
	mock.ExpectExec(`UPDATE trip_sessions SET current_stop_id=\$2`).
		WithArgs("sess-1", "stop-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc := NewService(mock, nil, nil)
	status, err := svc.RouteStatus(context.Background(), "route-1")
	if err != nil {
		t.Fatalf("route status: %v", err)
	}
	if status.Status != busstatus.StatusDelayed || status.MinutesBehindSchedule != 6 {
		t.Fatalf("expected delayed/6, got %+v", status)
	}
	if status.CurrentStop == nil || status.CurrentStop.ID != "stop-2" {
		t.Fatalf("expected current stop estimate, got %+v", status.CurrentStop)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRouteStatusStopsQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now()
	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-1").
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusActive, StartedAt: &started, CreatedAt: started,
		}))
	mock.ExpectQuery(`SELECT id, name, order_index, scheduled_arrival_minutes`).
		WithArgs("route-1").
		WillReturnError(errSession)

	svc := NewService(mock, nil, nil)
	_, err = svc.RouteStatus(context.Background(), "route-1")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func intPtr(v int) *int { return &v }
