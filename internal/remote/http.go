package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gridstone/tidewater/internal/entity"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second
)

// defaultClient builds an http.Client with explicit dial and TLS
// handshake timeouts instead of the stdlib's unbounded defaults. A poll
// tick must fail within a bounded window so the fixed-interval retry can
// take over.
func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHTTPTimeout,
	}
}

// HTTPClient talks JSON over HTTP to a tidewater server (or anything
// implementing the same routes).
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client (tests use an
// httptest server's client).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.http = c }
}

// NewHTTPClient creates a client for the server at baseURL
// (e.g. "http://localhost:8372").
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: baseURL,
		http:    defaultClient(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// wireError is the JSON body the server returns for failed requests.
type wireError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Create implements Client.
func (h *HTTPClient) Create(ctx context.Context, scopeID string, typ entity.Type, payload any) (Envelope, error) {
	u := fmt.Sprintf("%s/v1/scopes/%s/entities/%s", h.baseURL, url.PathEscape(scopeID), typ)
	var env Envelope
	if err := h.do(ctx, http.MethodPost, u, payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Update implements Client.
func (h *HTTPClient) Update(ctx context.Context, scopeID string, typ entity.Type, id string, payload any) (Envelope, error) {
	u := fmt.Sprintf("%s/v1/scopes/%s/entities/%s/%s", h.baseURL, url.PathEscape(scopeID), typ, url.PathEscape(id))
	var env Envelope
	if err := h.do(ctx, http.MethodPatch, u, payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Delete implements Client. Deleting an absent id succeeds.
func (h *HTTPClient) Delete(ctx context.Context, scopeID string, typ entity.Type, id string) error {
	u := fmt.Sprintf("%s/v1/scopes/%s/entities/%s/%s", h.baseURL, url.PathEscape(scopeID), typ, url.PathEscape(id))
	return h.do(ctx, http.MethodDelete, u, nil, nil)
}

// ChangesSince implements Client.
func (h *HTTPClient) ChangesSince(ctx context.Context, scopeID string, since Cursor) (Delta, error) {
	u := fmt.Sprintf("%s/v1/scopes/%s/changes?since=%s", h.baseURL, url.PathEscape(scopeID), url.QueryEscape(string(since)))
	var delta Delta
	if err := h.do(ctx, http.MethodGet, u, nil, &delta); err != nil {
		return Delta{}, err
	}
	return delta, nil
}

// Get implements Client.
func (h *HTTPClient) Get(ctx context.Context, scopeID string) (Snapshot, error) {
	u := fmt.Sprintf("%s/v1/scopes/%s", h.baseURL, url.PathEscape(scopeID))
	var snap Snapshot
	if err := h.do(ctx, http.MethodGet, u, nil, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// do executes one request/response cycle. Non-2xx responses decode into
// the structured error taxonomy; transport failures wrap as
// CodeNetworkFailure.
func (h *HTTPClient) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return NewValidationError("", "", "request body not serializable: "+err.Error())
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return NewNetworkError(method+" "+u, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return NewNetworkError(method+" "+u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewNetworkError("decode response", err)
		}
		return nil
	}

	var we wireError
	if err := json.NewDecoder(resp.Body).Decode(&we); err != nil || we.Code == "" {
		return NewNetworkError(method+" "+u, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return &Error{Code: we.Code, Message: we.Message}
}
