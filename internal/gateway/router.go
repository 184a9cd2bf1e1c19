package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"session-service/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type Upstream struct {
	Name string
	URL  string
}

// Route sends every request under Prefix to the named upstream.
type Route struct {
	Prefix   string
	Upstream string
}

// Routes is the public route table. Prefixes are matched under /api.
var Routes = []Route{
	{"/tables", "tables"},
	{"/sessions", "sessions"},
	{"/orders", "orders"},
	{"/categories", "orders"},
	{"/menu-items", "orders"},
	{"/auth", "users"},
	{"/users", "users"},
	{"/employees", "users"},
	{"/customers", "users"},
	{"/payments", "payments"},
	{"/invoices", "payments"},
	{"/reports", "payments"},
}

func UpstreamsFromConfig(cfg *config.Gateway) []Upstream {
	return []Upstream{
		{Name: "tables", URL: cfg.TableServiceURL},
		{Name: "sessions", URL: cfg.SessionServiceURL},
		{Name: "orders", URL: cfg.OrderServiceURL},
		{Name: "users", URL: cfg.UserServiceURL},
		{Name: "payments", URL: cfg.PaymentServiceURL},
	}
}

type Options struct {
	RateLimitMax        int
	RateLimitExpiration time.Duration
	UpstreamTimeout     time.Duration
	// Middleware runs ahead of everything else, e.g. tracing.
	Middleware []fiber.Handler
}

func New(upstreams []Upstream, client *http.Client, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.ErrorContext(c.UserContext(), "Gateway error", slog.Any("error", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Internal server error",
			})
		},
	})

	for _, m := range opts.Middleware {
		app.Use(m)
	}
	app.Use(cors.New())
	app.Use(RequestLogger())
	if opts.RateLimitMax > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimitMax,
			Expiration: opts.RateLimitExpiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"success": false,
					"error":   "Too many request, please try again later.",
				})
			},
		}))
	}

	SetupRoutes(app, upstreams, client, opts.UpstreamTimeout)
	return app
}

func SetupRoutes(app *fiber.App, upstreams []Upstream, client *http.Client, timeout time.Duration) {
	byName := make(map[string]string, len(upstreams))
	names := make([]string, 0, len(upstreams))
	for _, u := range upstreams {
		byName[u.Name] = u.URL
		names = append(names, u.Name)
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "api-gateway", "services": names})
	})
	app.Get("/health/all", HealthAll(client, upstreams, timeout))

	api := app.Group(apiPrefix)
	for _, route := range Routes {
		target, ok := byName[route.Upstream]
		if !ok || target == "" {
			slog.Warn("No upstream configured for route", slog.String("prefix", route.Prefix))
			continue
		}
		api.All(route.Prefix, ProxyTo(client, target, timeout))
		api.All(route.Prefix+"/*", ProxyTo(client, target, timeout))
	}

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Endpoint not found",
			"path":    c.Path(),
		})
	})
}

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		slog.InfoContext(c.UserContext(), "Gateway request",
			slog.String("method", c.Method()),
			slog.String("path", c.OriginalURL()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
}
