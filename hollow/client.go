package hollow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Version status values understood by the producer.
const (
	StatusAnnouncing = "ANNOUNCING"
	StatusPublished  = "PUBLISHED"
)

// StatusError is returned for any non-2xx producer response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client talks to the producer HTTP API.
type Client struct {
	BaseURL   string       // e.g. "http://localhost:7001"
	Token     string       // optional bearer token
	HTTP      *http.Client // injected for testability
	Log       *zap.Logger
	UserAgent string
}

// NewClient returns a ready-to-use client.
func NewClient(baseURL, token string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		HTTP:      &http.Client{Timeout: timeout},
		Log:       log,
		UserAgent: "ebpf-hollow/0.1",
	}
}

type versionRequest struct {
	Version int64  `json:"version,omitempty"`
	Status  string `json:"status"`
}

// Announce registers a new dataset version.
func (c *Client) Announce(ctx context.Context, dataset string, version int64) error {
	return c.do(ctx, http.MethodPost, datasetPath(dataset, "versions"),
		versionRequest{Version: version, Status: StatusAnnouncing}, nil)
}

// PublishData uploads the payload of an announced version.
func (c *Client) PublishData(ctx context.Context, dataset string, version int64, payload *Payload) error {
	return c.do(ctx, http.MethodPost, datasetPath(dataset, "versions", strconv.FormatInt(version, 10), "data"),
		payload, nil)
}

// PublishVersion marks a version as published.
func (c *Client) PublishVersion(ctx context.Context, dataset string, version int64) error {
	return c.do(ctx, http.MethodPut, datasetPath(dataset, "versions", strconv.FormatInt(version, 10), "status"),
		versionRequest{Status: StatusPublished}, nil)
}

// ProducerStatus is the subset of /api/status we look at.
type ProducerStatus struct {
	Status string `json:"status"`
}

// DatasetInfo is one entry of /api/datasets.
type DatasetInfo struct {
	Name    string          `json:"name"`
	Version json.RawMessage `json:"version,omitempty"`
}

// Status fetches /api/status.
func (c *Client) Status(ctx context.Context) (*ProducerStatus, error) {
	var st ProducerStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Datasets fetches /api/datasets.
func (c *Client) Datasets(ctx context.Context) ([]DatasetInfo, error) {
	var ds []DatasetInfo
	if err := c.do(ctx, http.MethodGet, "/api/datasets", nil, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func datasetPath(dataset string, parts ...string) string {
	segs := append([]string{"api", "datasets", url.PathEscape(dataset)}, parts...)
	return "/" + strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	endpoint := c.BaseURL + path

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	c.Log.Debug("producer call ok", zap.String("method", method), zap.String("url", endpoint), zap.Int("status", resp.StatusCode))

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
