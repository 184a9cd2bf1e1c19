package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"session-service/internal/jwt"

	"github.com/gofiber/fiber/v2"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const claimsKey = "staffClaims"

var (
	httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of http request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Requests currently being served",
		},
	)
)

// AuthMiddleware requires a valid staff bearer token and stores its claims
// for the handlers.
func AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fail(c, fiber.StatusUnauthorized, "Missing authorization header")
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || token == "" {
			return fail(c, fiber.StatusUnauthorized, "Invalid authorization header format")
		}

		claims, err := jwt.ValidateToken(token)
		if err != nil {
			if errors.Is(err, jwtv5.ErrTokenExpired) {
				return fail(c, fiber.StatusUnauthorized, "Token has expired")
			}
			return fail(c, fiber.StatusUnauthorized, "Invalid token")
		}

		if sub, ok := claims["sub"].(string); !ok || sub == "" {
			return fail(c, fiber.StatusUnauthorized, "Staff ID not found in token claims")
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// StaffIDFromClaims returns the token subject, or "" on unauthenticated routes.
func StaffIDFromClaims(c *fiber.Ctx) string {
	claims, ok := c.Locals(claimsKey).(jwtv5.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// PrometheusMiddleware records request counts, latency and in-flight
// requests per route. Scrapes of /metrics are not counted.
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		err := c.Next()

		statusCode := c.Response().StatusCode()
		if err != nil {
			var e *fiber.Error
			if errors.As(err, &e) {
				statusCode = e.Code
			} else {
				statusCode = fiber.StatusInternalServerError
			}
		}

		// Route pattern keeps ids out of the label set.
		labels := []string{c.Method(), c.Route().Path, strconv.Itoa(statusCode)}
		httpRequestTotal.WithLabelValues(labels...).Inc()
		httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

		return err
	}
}
