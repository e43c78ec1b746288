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

	"github.com/google/uuid"
)

// Client talks to the queue-service HTTP API.
type Client struct {
	BaseURL  string
	TenantID string
	Token    string
	HTTP     *http.Client
}

// APIError is the error envelope the service returns for 4xx and 5xx.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Code, e.Message, e.Status)
}

func NewClient(baseURL, tenantID, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		TenantID: tenantID,
		Token:    token,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) (int, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("tenant_id", c.TenantID)
	return c.do(ctx, http.MethodGet, path+"?"+query.Encode(), nil, out)
}

// Post sends body with tenant_id filled in. Every call carries a fresh
// X-Request-ID so a retried create is recognized by the server.
func (c *Client) Post(ctx context.Context, path string, body map[string]interface{}, out interface{}) (int, error) {
	if body == nil {
		body = map[string]interface{}{}
	}
	body["tenant_id"] = c.TenantID
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Tenant-ID", c.TenantID)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			RequestID string `json:"request_id"`
			Error     struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.RequestID = envelope.RequestID
		}
		return resp.StatusCode, apiErr
	}
	if out != nil && len(payload) > 0 && resp.StatusCode != http.StatusNoContent {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
