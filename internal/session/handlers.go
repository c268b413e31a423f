package session

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	// rider-facing: derived status for the route's active bus
	r.Get("/route/:routeID/status", func(c *fiber.Ctx) error {
		status, err := svc.RouteStatus(c.Context(), c.Params("routeID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(status)
	})

	r.Get("/route/:routeID/active", func(c *fiber.Ctx) error {
		sess, err := svc.ActiveForRoute(c.Context(), c.Params("routeID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if sess == nil {
			return fiber.NewError(fiber.StatusNotFound, "no active session for route")
		}
		return c.JSON(sess)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		sess, err := svc.GetSession(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "session not found")
		}
		return c.JSON(sess)
	})
}
