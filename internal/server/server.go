package server

import (
	"backend-busbuddy/internal/auth"
	"backend-busbuddy/internal/config"
	"backend-busbuddy/internal/driver"
	"backend-busbuddy/internal/metrics"
	"backend-busbuddy/internal/route"
	"backend-busbuddy/internal/session"
	"backend-busbuddy/internal/stream"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Metrics *metrics.Collector
	Trips   *driver.Manager
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	collector := metrics.NewCollector()
	hub := stream.NewHub(redisClient)
	sessions := session.NewService(db, hub, collector)

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      db,
		Redis:   redisClient,
		Stream:  hub,
		Metrics: collector,
		Trips:   driver.NewManager(sessions, driver.LogNotifier{}, collector),
	}

	registerRoutes(s, sessions)
	return s
}

func registerRoutes(s *Server, sessions *session.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	route.RegisterRoutes(s.App.Group("/routes"), route.NewService(s.DB), jwtMiddleware)
	session.RegisterRoutes(s.App.Group("/sessions"), sessions)
	driver.RegisterRoutes(s.App.Group("/driver", jwtMiddleware), s.Trips)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
