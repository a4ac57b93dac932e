package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/koltyakov/relink/internal/stats"
	"github.com/koltyakov/relink/internal/store"
)

// GetStatistics returns the statistics matching a partial key.
func (c *Client) GetStatistics(ctx context.Context, d stats.Description) ([]store.StatisticValue, error) {
	var rows []store.StatisticValue
	err := c.do(ctx, http.MethodGet, "/api/v1/statistics", descriptionQuery(d), nil, &rows)
	return rows, err
}

// RemoveStatistics deletes the statistics matching a partial key and
// returns the removed rows with their last values.
func (c *Client) RemoveStatistics(ctx context.Context, d stats.Description) ([]store.StatisticValue, error) {
	var rows []store.StatisticValue
	err := c.do(ctx, http.MethodDelete, "/api/v1/statistics", descriptionQuery(d), nil, &rows)
	return rows, err
}

func descriptionQuery(d stats.Description) url.Values {
	q := url.Values{}
	if d.Link != nil {
		q.Set("link", *d.Link)
	}
	if d.Type != nil {
		q.Set("type", string(*d.Type))
	}
	if d.Data != nil {
		q.Set("data", *d.Data)
	}
	if d.Time != nil {
		q.Set("time", d.Time.String())
	}
	return q
}
