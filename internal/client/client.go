// Package client implements the HTTP client for the control-plane API,
// used by the administrative CLI commands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koltyakov/relink/internal/config"
	"github.com/koltyakov/relink/internal/id"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Client calls the control-plane API of a running server.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client from the shared command-line options.
func New(cfg config.ClientConfig) *Client {
	return &Client{
		base:  strings.TrimRight(strings.TrimSpace(cfg.Host), "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
	}
}

type linkResponse struct {
	URL string `json:"url"`
}

type oldLinkResponse struct {
	OldURL *string `json:"old_url"`
}

type idResponse struct {
	ID id.ID `json:"id"`
}

type oldIDResponse struct {
	OldID *id.ID `json:"old_id"`
}

// GetRedirect resolves an ID to its destination URL. A missing redirect
// is reported through ok, not an error.
func (c *Client) GetRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	var out linkResponse
	ok, err := c.lookup(ctx, "/api/v1/redirects/"+link.String(), &out)
	return out.URL, ok, err
}

// SetRedirect sets the destination of an ID and returns the replaced
// destination, if there was one.
func (c *Client) SetRedirect(ctx context.Context, link id.ID, to string) (string, bool, error) {
	var out oldLinkResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/redirects/"+link.String(), nil,
		map[string]string{"url": to}, &out)
	if err != nil || out.OldURL == nil {
		return "", false, err
	}
	return *out.OldURL, true, nil
}

// RemoveRedirect deletes a redirect and returns the removed destination,
// if there was one.
func (c *Client) RemoveRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	var out oldLinkResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/redirects/"+link.String(), nil, nil, &out)
	if err != nil || out.OldURL == nil {
		return "", false, err
	}
	return *out.OldURL, true, nil
}

// GetVanity resolves a vanity path to its ID.
func (c *Client) GetVanity(ctx context.Context, vanity string) (id.ID, bool, error) {
	var out idResponse
	ok, err := c.lookup(ctx, "/api/v1/vanity/"+vanityPath(vanity), &out)
	return out.ID, ok, err
}

// SetVanity points a vanity path at an ID and returns the previously
// assigned ID, if there was one.
func (c *Client) SetVanity(ctx context.Context, vanity string, link id.ID) (id.ID, bool, error) {
	var out oldIDResponse
	err := c.do(ctx, http.MethodPut, "/api/v1/vanity/"+vanityPath(vanity), nil,
		map[string]string{"id": link.String()}, &out)
	if err != nil || out.OldID == nil {
		return id.ID{}, false, err
	}
	return *out.OldID, true, nil
}

// RemoveVanity deletes a vanity path and returns the ID it pointed to,
// if there was one.
func (c *Client) RemoveVanity(ctx context.Context, vanity string) (id.ID, bool, error) {
	var out oldIDResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/vanity/"+vanityPath(vanity), nil, nil, &out)
	if err != nil || out.OldID == nil {
		return id.ID{}, false, err
	}
	return *out.OldID, true, nil
}

// vanityPath escapes a vanity path for use in a request URL, keeping its
// segment structure.
func vanityPath(vanity string) string {
	segments := strings.Split(vanity, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// lookup is a GET where 404 means a miss rather than a failure.
func (c *Client) lookup(ctx context.Context, path string, out any) (bool, error) {
	err := c.do(ctx, http.MethodGet, path, nil, nil, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return err == nil, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
