package route

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

type createRouteRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description"`
	CreatedBy      string `json:"created_by" validate:"required"`
}

type createStopRequest struct {
	Name                    string  `json:"name" validate:"required"`
	Latitude                float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude               float64 `json:"longitude" validate:"min=-180,max=180"`
	OrderIndex              int     `json:"order_index" validate:"min=0"`
	ScheduledArrivalMinutes *int    `json:"scheduled_arrival_minutes"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req createRouteRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		route, err := svc.CreateRoute(c.Context(), Route{
			OrganizationID: req.OrganizationID,
			Name:           req.Name,
			Description:    req.Description,
			CreatedBy:      req.CreatedBy,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(route)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		route, err := svc.GetRoute(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "route not found")
		}
		return c.JSON(route)
	})

	r.Put("/:id", authMiddleware, func(c *fiber.Ctx) error {
		var req Route
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		route, err := svc.UpdateRoute(c.Context(), c.Params("id"), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(route)
	})

	r.Post("/:id/stops", authMiddleware, func(c *fiber.Ctx) error {
		var req createStopRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		stop, err := svc.AddStop(c.Context(), Stop{
			RouteID:                 c.Params("id"),
			Name:                    req.Name,
			Latitude:                req.Latitude,
			Longitude:               req.Longitude,
			OrderIndex:              req.OrderIndex,
			ScheduledArrivalMinutes: req.ScheduledArrivalMinutes,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(stop)
	})

	r.Get("/:id/stops", func(c *fiber.Ctx) error {
		stops, err := svc.Stops(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(stops)
	})
}
