package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// userHeader must match the header the API reads the acting player from.
const userHeader = "X-Corpsim-User"

type Client struct {
	BaseURL string
	Token   string
	UserID  string
	HTTP    *http.Client
}

func NewClient(baseURL string, sess Session) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   sess.Token,
		UserID:  sess.UserID,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Market(ctx context.Context) (map[string]any, error) {
	return c.get(ctx, "/v1/market")
}

// Price quotes one commodity or product. kind is "commodities" or "products".
// A nil supply/demand pair prices from live unit counts.
func (c *Client) Price(ctx context.Context, kind, name string, supply, demand *float64) (map[string]any, error) {
	path := fmt.Sprintf("/v1/market/%s/%s", kind, url.PathEscape(name))
	if supply != nil && demand != nil {
		q := url.Values{}
		q.Set("supply", fmt.Sprint(*supply))
		q.Set("demand", fmt.Sprint(*demand))
		path += "?" + q.Encode()
	}
	return c.get(ctx, path)
}

func (c *Client) PriceHistory(ctx context.Context, kind, name string, limit int) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/market/history/%s/%s?limit=%d", kind, url.PathEscape(name), limit))
}

func (c *Client) UnitEconomics(ctx context.Context, sector, unitType string) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/economics/%s/%s", url.PathEscape(sector), url.PathEscape(unitType)))
}

func (c *Client) Corporations(ctx context.Context) (map[string]any, error) {
	return c.get(ctx, "/v1/corporations")
}

func (c *Client) Corporation(ctx context.Context, id int64) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/corporations/%d", id))
}

func (c *Client) Valuation(ctx context.Context, id int64) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/corporations/%d/valuation", id))
}

func (c *Client) Financials(ctx context.Context, id int64) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/corporations/%d/financials", id))
}

func (c *Client) Board(ctx context.Context, id int64) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/corporations/%d/board", id))
}

func (c *Client) Transactions(ctx context.Context, id int64, limit int) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/corporations/%d/transactions?limit=%d", id, limit))
}

func (c *Client) ShareHistory(ctx context.Context, id int64, limit int) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/corporations/%d/share-history?limit=%d", id, limit))
}

func (c *Client) Proposal(ctx context.Context, id int64) (map[string]any, error) {
	return c.get(ctx, fmt.Sprintf("/v1/proposals/%d", id))
}

func (c *Client) CreateProposal(ctx context.Context, corporationID int64, proposalType string, data map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/corporations/%d/proposals", corporationID), map[string]any{
		"type": proposalType,
		"data": data,
	}, &out)
	return out, err
}

func (c *Client) Vote(ctx context.Context, proposalID int64, vote string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/proposals/%d/votes", proposalID), map[string]any{
		"vote": vote,
	}, &out)
	return out, err
}

func (c *Client) ActivateAction(ctx context.Context, corporationID int64, actionType string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/corporations/%d/actions", corporationID), map[string]any{
		"type": actionType,
	}, &out)
	return out, err
}

func (c *Client) ExpiredProposals(ctx context.Context) (map[string]any, error) {
	return c.get(ctx, "/v1/admin/proposals/expired")
}

func (c *Client) ResolveProposal(ctx context.Context, id int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/proposals/%d/resolve", id), nil, &out)
	return out, err
}

func (c *Client) UpdatePrice(ctx context.Context, id int64, random bool) (map[string]any, error) {
	path := fmt.Sprintf("/v1/admin/corporations/%d/price", id)
	if random {
		path += "?random=1"
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func (c *Client) RunTick(ctx context.Context, kind string, force bool) (map[string]any, error) {
	path := "/v1/admin/ticks/" + url.PathEscape(kind)
	if force {
		path += "?force=1"
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func (c *Client) AddFlow(ctx context.Context, flow map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/catalog/flows", flow, &out)
	return out, err
}

func (c *Client) RemoveFlow(ctx context.Context, flow map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, "/v1/admin/catalog/flows", flow, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserID != "" {
		req.Header.Set(userHeader, c.UserID)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: apiMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func apiMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
