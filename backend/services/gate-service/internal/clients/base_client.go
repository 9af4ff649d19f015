package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Response is a reply the backend actually sent.
type Response struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

// Err returns the backend's rejection, or nil when the request was accepted. A 2xx
// carrying success:false is a rejection too.
func (r Response) Err() error {
	if r.Status >= 300 || declinedInBody(r.Body) {
		return apiErrorFrom(r.Status, r.Body)
	}
	return nil
}

// Decode unmarshals an accepted body into out. An empty body leaves out untouched.
func (r Response) Decode(out interface{}) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBadResponse, r.Method, r.Path, err)
	}
	return nil
}

// BaseClient executes JSON requests against one base URL.
type BaseClient struct {
	baseURL string
	client  HTTPDoer
}

// NewBaseClient builds client with base URL.
func NewBaseClient(baseURL string, client HTTPDoer) *BaseClient {
	return &BaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *BaseClient) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Do sends body as JSON. Any error means no response was received and wraps
// ErrUnavailable; rejections are reported through Response.Err.
func (c *BaseClient) Do(ctx context.Context, method, path string, body []byte, headers map[string]string) (Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s %s: reading body: %v", ErrUnavailable, method, path, err)
	}
	return Response{Method: method, Path: path, Status: resp.StatusCode, Body: respBody}, nil
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
