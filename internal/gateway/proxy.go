package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const apiPrefix = "/api"

// hop-by-hop headers are not forwarded in either direction.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// NewUpstreamClient returns the traced client used for every upstream call.
// Deadlines are set per request so event streams can stay open.
func NewUpstreamClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// ProxyTo forwards the request to baseURL with the /api prefix removed,
// keeping method, headers, query and body. A failed upstream answers 502.
func ProxyTo(client *http.Client, baseURL string, timeout time.Duration) fiber.Handler {
	baseURL = strings.TrimRight(baseURL, "/")

	return func(c *fiber.Ctx) error {
		targetURL := baseURL + strings.TrimPrefix(c.Path(), apiPrefix)
		if query := c.Request().URI().QueryString(); len(query) > 0 {
			targetURL += "?" + string(query)
		}

		streaming := strings.Contains(c.Get(fiber.HeaderAccept), "text/event-stream")

		ctx := c.UserContext()
		cancel := context.CancelFunc(func() {})
		if !streaming {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		}

		body := c.Body()
		req, err := http.NewRequestWithContext(ctx, c.Method(), targetURL, bytes.NewReader(body))
		if err != nil {
			cancel()
			return err
		}
		for key, value := range c.Request().Header.All() {
			if !hopHeaders[http.CanonicalHeaderKey(string(key))] {
				req.Header.Set(string(key), string(value))
			}
		}
		req.ContentLength = int64(len(body))
		req.Header.Set("X-Forwarded-For", c.IP())

		resp, err := client.Do(req)
		if err != nil {
			cancel()
			slog.ErrorContext(c.UserContext(), "Upstream call failed",
				slog.String("target", targetURL),
				slog.Any("error", err),
			)
			return unavailable(c)
		}

		c.Status(resp.StatusCode)
		for key, values := range resp.Header {
			if hopHeaders[key] {
				continue
			}
			for _, value := range values {
				c.Set(key, value)
			}
		}

		if streaming {
			// fasthttp closes the body once the client is gone.
			c.Context().SetBodyStream(&cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, -1)
			return nil
		}

		defer cancel()
		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.ErrorContext(c.UserContext(), "Reading upstream response failed",
				slog.String("target", targetURL),
				slog.Any("error", err),
			)
			return unavailable(c)
		}
		c.Context().SetBody(payload)
		return nil
	}
}

func unavailable(c *fiber.Ctx) error {
	c.Response().Header.Del(fiber.HeaderContentType)
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
		"success": false,
		"error":   "Service unavailable",
	})
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}
