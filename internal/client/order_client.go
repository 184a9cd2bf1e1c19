package client

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type OrderClient struct {
	baseClient
}

func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	return &OrderClient{baseClient: newBaseClient(baseURL, timeout)}
}

type sessionOrders struct {
	TotalPrice float64 `json:"totalPrice"`
}

// SessionOrdersTotal returns the summed price of every order placed against
// the session, in whole currency units.
func (c *OrderClient) SessionOrdersTotal(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var resp envelope[sessionOrders]
	if err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID.String()+"/orders", nil, &resp); err != nil {
		return 0, err
	}
	return int64(math.Round(resp.Data.TotalPrice)), nil
}
