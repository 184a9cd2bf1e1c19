package client

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	"session-service/internal/model"
)

// TableRegistry talks to the table service that owns table records and
// their occupancy status.
type TableRegistry struct {
	baseClient
}

func NewTableRegistry(baseURL string, timeout time.Duration) *TableRegistry {
	return &TableRegistry{baseClient: newBaseClient(baseURL, timeout)}
}

type tablePayload struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Status     model.TableStatus `json:"status"`
	HourlyRate float64           `json:"hourlyRate"`
}

func (r *TableRegistry) GetTable(ctx context.Context, tableID string) (*model.Table, error) {
	var resp envelope[tablePayload]
	if err := r.do(ctx, http.MethodGet, "/tables/"+url.PathEscape(tableID), nil, &resp); err != nil {
		return nil, err
	}

	return &model.Table{
		ID:         resp.Data.ID,
		Name:       resp.Data.Name,
		Type:       resp.Data.Type,
		Status:     resp.Data.Status,
		HourlyRate: int64(math.Round(resp.Data.HourlyRate)),
	}, nil
}

func (r *TableRegistry) SetStatus(ctx context.Context, tableID string, status model.TableStatus) error {
	body := map[string]model.TableStatus{"status": status}
	return r.do(ctx, http.MethodPatch, "/tables/"+url.PathEscape(tableID)+"/status", body, nil)
}
