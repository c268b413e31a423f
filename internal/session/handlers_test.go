package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func TestSessionHandlersRouteStatus(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)

	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), NewService(mock, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/sessions/route/route-1/status", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("route status: %v", err)
	}
}

func TestSessionHandlersActiveNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)

	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), NewService(mock, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/sessions/route/route-1/active", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %v", resp.StatusCode)
	}
}

func TestSessionHandlersGetSession(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	started := time.Now()
	mock.ExpectQuery(`FROM trip_sessions WHERE id=\$1`).
		WithArgs("sess-1").
		WillReturnRows(sessionRows(t, TripSession{
			ID: "sess-1", RouteID: "route-1", DriverUserID: "driver-1",
			Status: StatusActive, StartedAt: &started, CreatedAt: started,
		}))

	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), NewService(mock, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: %v", err)
	}
}

func TestSessionHandlersGetSessionNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM trip_sessions WHERE id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), NewService(mock, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found")
	}
}

func TestSessionHandlersRouteStatusError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM trip_sessions\s+WHERE route_id=\$1 AND status='active'`).
		WithArgs("route-err").
		WillReturnError(errSession)

	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), NewService(mock, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/sessions/route/route-err/status", nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected error")
	}
}
