// Package storeclient is the desk client's connection to the order store:
// the REST endpoints for orders and edit locks, and the websocket push feed.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/api"
	"github.com/laundryhub/api/internal/apperr"
	"github.com/laundryhub/api/internal/lifecycle"
	"github.com/laundryhub/api/internal/order"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// NewHTTPClient returns an http.Client that propagates trace context to the
// order store.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   defaultTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Client talks to one station of the order store as one operator.
type Client struct {
	baseURL   string
	stationID uuid.UUID
	http      *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a Client. A nil httpClient uses NewHTTPClient.
func New(baseURL string, stationID uuid.UUID, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Client{
		baseURL:   baseURL,
		stationID: stationID,
		http:      httpClient,
		token:     token,
	}
}

func (c *Client) StationID() uuid.UUID { return c.stationID }

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Error is a non-2xx response from the order store. It unwraps to the
// apperr sentinel named by the response's kind, or by its status.
type Error struct {
	Status  int
	Kind    string
	Message string
	base    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store responded %d", e.Status)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.base }

func decodeError(resp *http.Response, orderID uuid.UUID) error {
	var body api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Error = string(bytes.TrimSpace(raw))
	}

	if body.Kind == "lock_conflict" || (resp.StatusCode == http.StatusConflict && body.Holder != "") {
		return &apperr.LockConflictError{OrderID: orderID, Holder: body.Holder}
	}

	base := apperr.FromKind(body.Kind)
	if base == nil {
		// With an empty message FromStatus returns the bare sentinel.
		base = apperr.FromStatus(resp.StatusCode, "")
		if apperr.Kind(base) == "internal" {
			return apperr.FromStatus(resp.StatusCode, body.Error)
		}
	}
	return &Error{Status: resp.StatusCode, Kind: body.Kind, Message: body.Error, base: base}
}

func (c *Client) stationPath(format string, args ...any) string {
	return "/stations/" + c.stationID.String() + fmt.Sprintf(format, args...)
}

// do sends a JSON request and decodes a JSON response into out. orderID only
// labels lock conflicts.
func (c *Client) do(ctx context.Context, method, path string, orderID uuid.UUID, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp, orderID)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

// Login exchanges operator credentials for tokens and keeps the access token.
func (c *Client) Login(ctx context.Context, email, password string) (api.TokenResponse, error) {
	var resp api.TokenResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/login", uuid.Nil, api.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return api.TokenResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (api.TokenResponse, error) {
	var resp api.TokenResponse
	if _, err := c.do(ctx, http.MethodPost, "/auth/refresh", uuid.Nil, api.RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return api.TokenResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

// ListFilter narrows ListOrders. Nil fields are not sent.
type ListFilter struct {
	Draft    *bool
	Archived *bool
	Payment  string
	Limit    int
	Offset   int
}

func (f ListFilter) query() string {
	q := url.Values{}
	if f.Draft != nil {
		q.Set("draft", strconv.FormatBool(*f.Draft))
	}
	if f.Archived != nil {
		q.Set("archived", strconv.FormatBool(*f.Archived))
	}
	if f.Payment != "" {
		q.Set("payment", f.Payment)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func toOrders(in []api.Order) ([]order.Order, error) {
	out := make([]order.Order, 0, len(in))
	for _, o := range in {
		parsed, err := o.ToOrder()
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func (c *Client) ListOrders(ctx context.Context, f ListFilter) ([]order.Order, error) {
	var resp api.OrderList
	if _, err := c.do(ctx, http.MethodGet, c.stationPath("/orders")+f.query(), uuid.Nil, nil, &resp); err != nil {
		return nil, err
	}
	return toOrders(resp.Orders)
}

func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (order.Order, error) {
	var resp api.Order
	if _, err := c.do(ctx, http.MethodGet, c.stationPath("/orders/%s", id), id, nil, &resp); err != nil {
		return order.Order{}, err
	}
	return resp.ToOrder()
}

// CreateOrder submits an order. created is false when the store answered a
// replay of an earlier request with the same client_ref.
func (c *Client) CreateOrder(ctx context.Context, req api.CreateOrderRequest) (o order.Order, created bool, err error) {
	var resp api.Order
	status, err := c.do(ctx, http.MethodPost, c.stationPath("/orders"), uuid.Nil, req, &resp)
	if err != nil {
		return order.Order{}, false, err
	}
	o, err = resp.ToOrder()
	return o, status == http.StatusCreated, err
}

func (c *Client) UpdateOrder(ctx context.Context, id uuid.UUID, req api.UpdateOrderRequest) (order.Order, error) {
	var resp api.Order
	if _, err := c.do(ctx, http.MethodPatch, c.stationPath("/orders/%s", id), id, req, &resp); err != nil {
		return order.Order{}, err
	}
	return resp.ToOrder()
}

var transitionRoutes = map[lifecycle.Action]struct {
	method string
	suffix string
}{
	lifecycle.ActionArchive:          {http.MethodPost, "archive"},
	lifecycle.ActionUnarchive:        {http.MethodPost, "unarchive"},
	lifecycle.ActionComplete:         {http.MethodPost, "complete"},
	lifecycle.ActionScheduleDeletion: {http.MethodPost, "schedule-deletion"},
	lifecycle.ActionCancelDeletion:   {http.MethodDelete, "schedule-deletion"},
}

// Transition applies a lifecycle action other than convert.
func (c *Client) Transition(ctx context.Context, id uuid.UUID, action lifecycle.Action) (order.Order, error) {
	route, ok := transitionRoutes[action]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %s is not a store transition", apperr.ErrInvalidInput, action)
	}
	var resp api.Order
	if _, err := c.do(ctx, route.method, c.stationPath("/orders/%s/%s", id, route.suffix), id, nil, &resp); err != nil {
		return order.Order{}, err
	}
	return resp.ToOrder()
}

// Convert finalizes a draft and returns the draft and the order created
// from it.
func (c *Client) Convert(ctx context.Context, id uuid.UUID) (draft, created order.Order, err error) {
	var resp api.ConvertResponse
	if _, err = c.do(ctx, http.MethodPost, c.stationPath("/orders/%s/convert", id), id, nil, &resp); err != nil {
		return order.Order{}, order.Order{}, err
	}
	if draft, err = resp.Draft.ToOrder(); err != nil {
		return order.Order{}, order.Order{}, err
	}
	created, err = resp.Order.ToOrder()
	return draft, created, err
}

func (c *Client) AcquireLock(ctx context.Context, id uuid.UUID) (api.LockStatus, error) {
	var resp api.LockStatus
	_, err := c.do(ctx, http.MethodPost, c.stationPath("/orders/%s/lock", id), id, nil, &resp)
	return resp, err
}

// RenewLock extends the caller's lease. A lost lease comes back as a status
// with LockedByViewer false, not as an error.
func (c *Client) RenewLock(ctx context.Context, id uuid.UUID) (api.LockStatus, error) {
	var resp api.LockStatus
	_, err := c.do(ctx, http.MethodPost, c.stationPath("/orders/%s/lock/heartbeat", id), id, nil, &resp)
	return resp, err
}

func (c *Client) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	_, err := c.do(ctx, http.MethodDelete, c.stationPath("/orders/%s/lock", id), id, nil, nil)
	return err
}

func (c *Client) LockStatus(ctx context.Context, id uuid.UUID) (api.LockStatus, error) {
	var resp api.LockStatus
	_, err := c.do(ctx, http.MethodGet, c.stationPath("/orders/%s/lock", id), id, nil, &resp)
	return resp, err
}
