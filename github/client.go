// Package github is the outbound platform edge: a REST client for
// api.github.com and the installation token exchange built on it.
package github

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
)

const DefaultBaseURL = "https://api.github.com"

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	HTTP                 HTTPDoer
	BaseURL              string
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewClient(httpClient HTTPDoer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		HTTP:    httpClient,
		BaseURL: DefaultBaseURL,
		DefaultHeaders: map[string]string{
			"Accept": "application/vnd.github+json",
		},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (c *Client) Kind() string {
	return "rest"
}

// Do executes a single request against the platform. Relative URLs resolve
// against BaseURL. No retry happens here; callers wrap throttle-sensitive
// operations with the ratelimit invoker.
func (c *Client) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if c == nil || c.HTTP == nil {
		return core.TransportResponse{}, clientError(
			"github: client requires an http doer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	requestURL, err := c.resolveURL(req.URL)
	if err != nil {
		return core.TransportResponse{}, err
	}

	query := requestURL.Query()
	for key, value := range req.Query {
		if strings.TrimSpace(key) == "" {
			continue
		}
		query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	requestURL.RawQuery = query.Encode()

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, requestURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResponse{}, clientWrapError(
			err,
			goerrors.CategoryBadInput,
			"github: create http request",
			http.StatusBadRequest,
			map[string]any{"method": method, "url": requestURL.String()},
		)
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	startedAt := time.Now().UTC()
	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, clientWrapError(
			err,
			goerrors.CategoryExternal,
			"github: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": method, "url": requestURL.String()},
		)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := c.responseBodyLimit(req.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return core.TransportResponse{}, clientWrapError(
			err,
			goerrors.CategoryExternal,
			"github: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > maxBodyBytes {
		return core.TransportResponse{}, clientError(
			fmt.Sprintf("github: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": maxBodyBytes},
		)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

func (c *Client) resolveURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, clientError(
			"github: request url is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, clientWrapError(
			err,
			goerrors.CategoryBadInput,
			"github: invalid request url",
			http.StatusBadRequest,
			map[string]any{"url": raw},
		)
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, clientWrapError(
			err,
			goerrors.CategoryBadInput,
			"github: invalid base url",
			http.StatusBadRequest,
			map[string]any{"base_url": base},
		)
	}
	return baseURL.ResolveReference(parsed), nil
}

func (c *Client) responseBodyLimit(requestLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if c != nil && c.MaxResponseBodyBytes > 0 {
		return c.MaxResponseBodyBytes
	}
	return defaultResponseBodyLimit
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func clientError(message string, category goerrors.Category, code int, metadata map[string]any) error {
	err := goerrors.New(message, category).WithCode(code)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func clientWrapError(source error, category goerrors.Category, message string, code int, metadata map[string]any) error {
	err := goerrors.Wrap(source, category, message).WithCode(code)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

var _ core.TransportAdapter = (*Client)(nil)
