package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	healthHealthy     = "healthy"
	healthUnhealthy   = "unhealthy"
	healthUnreachable = "unreachable"
)

// HealthAll probes every upstream's /health in parallel. Any upstream that is
// not healthy turns the answer into 503 "degraded".
func HealthAll(client *http.Client, upstreams []Upstream, timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()

		results := make(map[string]string, len(upstreams))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, u := range upstreams {
			wg.Add(1)
			go func(u Upstream) {
				defer wg.Done()
				state := probe(ctx, client, u.URL)
				mu.Lock()
				results[u.Name] = state
				mu.Unlock()
			}(u)
		}
		wg.Wait()

		status, code := "ok", fiber.StatusOK
		for _, state := range results {
			if state != healthHealthy {
				status, code = "degraded", fiber.StatusServiceUnavailable
				break
			}
		}

		return c.Status(code).JSON(fiber.Map{"status": status, "services": results})
	}
}

func probe(ctx context.Context, client *http.Client, baseURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return healthUnreachable
	}
	resp, err := client.Do(req)
	if err != nil {
		return healthUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return healthHealthy
	}
	return healthUnhealthy
}
