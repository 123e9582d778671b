package main

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

// apiError is the decoded error body returned by cdpd.
type apiError struct {
	Status              int    `json:"-"`
	Message             string `json:"error"`
	Code                string `json:"code"`
	HealthFactorDisplay string `json:"healthFactorDisplay"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	if e.HealthFactorDisplay != "" {
		msg += ": health factor would be " + e.HealthFactorDisplay
	}
	return msg
}

type client struct {
	endpoint string
	token    string
	account  string
	http     *http.Client
}

func newClient(endpoint, token, account string, timeout time.Duration) *client {
	return &client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:    strings.TrimSpace(token),
		account:  strings.TrimSpace(account),
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, "")
}

// post sends body with an idempotency key so a retried command cannot apply
// twice. An empty key gets a fresh random one.
func (c *client) post(ctx context.Context, path string, body any, key string) (json.RawMessage, error) {
	if key == "" {
		key = uuid.NewString()
	}
	return c.do(ctx, http.MethodPost, path, body, key)
}

func (c *client) do(ctx context.Context, method, path string, body any, key string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.account != "" {
		req.Header.Set("X-Account", c.account)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return data, nil
}
