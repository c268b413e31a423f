package driver

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"backend-busbuddy/internal/location"
	"backend-busbuddy/internal/session"
)

var validate = validator.New()

type startTripRequest struct {
	RouteID      string `json:"route_id" validate:"required"`
	DriverUserID string `json:"driver_user_id"`
}

type endTripRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=completed cancelled"`
}

type locationReportRequest struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	ErrorCode string  `json:"error_code" validate:"omitempty,oneof=permission_denied position_unavailable timeout"`
}

// RegisterRoutes mounts the driver trip endpoints under the given router.
func RegisterRoutes(router fiber.Router, mgr *Manager) {
	router.Post("/trips", startTrip(mgr))
	router.Post("/trips/:id/pause", pauseTrip(mgr))
	router.Post("/trips/:id/resume", resumeTrip(mgr))
	router.Post("/trips/:id/end", endTrip(mgr))
	router.Post("/trips/:id/location", reportLocation(mgr))
}

func startTrip(mgr *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req startTripRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		driverID := req.DriverUserID
		if uid, ok := c.Locals("user_id").(string); ok && uid != "" {
			driverID = uid
		}
		if driverID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "driver_user_id is required")
		}

		sess, err := mgr.Start(c.Context(), req.RouteID, driverID)
		if err != nil {
			if errors.Is(err, ErrLocationUnavailable) {
				return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	}
}

func pauseTrip(mgr *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return transitionResponse(c, mgr.Pause(c.Context(), c.Params("id")))
	}
}

func resumeTrip(mgr *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := mgr.Resume(c.Context(), c.Params("id"))
		if errors.Is(err, ErrLocationUnavailable) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return transitionResponse(c, err)
	}
}

func endTrip(mgr *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req endTripRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return transitionResponse(c, mgr.End(c.Context(), c.Params("id"), session.Status(req.Outcome)))
	}
}

// reportLocation accepts one device reading, or a device-side location
// error. Readings are fire and forget: the controller decides whether
// the sample is written or dropped.
func reportLocation(mgr *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req locationReportRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		id := c.Params("id")
		var err error
		if req.ErrorCode != "" {
			err = mgr.ReportFailure(id, locationError(req.ErrorCode))
		} else {
			err = mgr.Report(id, location.Fix{Latitude: req.Latitude, Longitude: req.Longitude})
		}
		if err != nil {
			if errors.Is(err, ErrUnknownTrip) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	}
}

func transitionResponse(c *fiber.Ctx, err error) error {
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, ErrUnknownTrip):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrOutOfSync):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
}

func locationError(code string) error {
	switch code {
	case "permission_denied":
		return location.ErrPermissionDenied
	case "timeout":
		return location.ErrTimeout
	default:
		return location.ErrUnavailable
	}
}
