// Package upstream talks to the campus fitness API. A submission is
// two-phased: the initiating calls travel encrypted, the trail detail call
// travels as structured JSON, so the client exposes both encodings.
package upstream

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

	"sunrunner/internal/domain"
	"sunrunner/internal/infra"
)

const defaultBaseURL = "https://app.xtotoro.com/app/"

// The app is picky about its client fingerprint; these headers mirror the
// mobile build the submissions impersonate.
var baseHeaders = map[string]string{
	"Connection":      "keep-alive",
	"Accept-Encoding": "gzip, deflate, br",
	"Accept":          "application/json",
	"User-Agent":      "TotoroSchool/1.2.14 (iPhone; iOS 17.4.1; Scale/3.00)",
}

// Options controls how the upstream client is configured.
type Options struct {
	BaseURL    string
	Encoder    Encoder
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client posts submission requests to the upstream API.
type Client struct {
	baseURL    string
	encoder    Encoder
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient builds a client, applying defaults for base URL and HTTP client.
func NewClient(opts Options) (*Client, error) {
	if opts.Encoder == nil {
		return nil, fmt.Errorf("upstream client requires an encoder")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		encoder:    opts.Encoder,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// PostEncrypted serializes body, encrypts it and posts it as text/plain.
func (c *Client) PostEncrypted(ctx context.Context, path string, body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	encoded, err := c.encoder.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s request: %w", path, err)
	}
	return c.post(ctx, path, strings.NewReader(encoded), "text/plain; charset=utf-8")
}

// PostJSON posts body as structured JSON.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	return c.post(ctx, path, bytes.NewReader(raw), "application/json; charset=utf-8")
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)
	if u, err := url.Parse(c.baseURL); err == nil {
		req.Host = u.Host
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Path: path, Status: 0, Body: err.Error()}
	}
	defer res.Body.Close()

	text, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Path: path, Status: res.StatusCode, Body: err.Error()}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &domain.UpstreamError{Path: path, Status: res.StatusCode, Body: string(text)}
	}

	var decoded map[string]any
	if err := json.Unmarshal(text, &decoded); err != nil {
		return nil, &domain.UpstreamError{Path: path, Status: res.StatusCode, Body: string(text)}
	}
	if c.logger != nil {
		c.logger.Debug().Str("path", path).Int("status", res.StatusCode).Msg("upstream call ok")
	}
	return decoded, nil
}
