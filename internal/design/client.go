// Package design is the HTTP client for the design-file service. It
// performs single requests and classifies failures; retry and pacing
// policy belong to the caller.
package design

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.drafthaus.io"
	defaultUserAgent = "frame-exporter"

	// tokenHeader carries the personal access token on API calls. Asset
	// URLs are presigned and served from a different host, so the token
	// is never sent on downloads.
	tokenHeader = "X-Access-Token"

	// maxTreeResponseSize bounds the decoded node tree. Large documents
	// run to tens of megabytes; anything past this is not a real tree.
	maxTreeResponseSize = 64 * 1024 * 1024

	maxErrorBodySize = 8 * 1024
)

// Options configures a Client.
type Options struct {
	// BaseURL of the service API. Default: the public endpoint.
	BaseURL string

	// Token is the personal access token sent on every API call.
	Token string

	// UserAgent sent on all requests.
	UserAgent string

	// APITimeout bounds metadata and bulk render calls.
	// Default: 15s.
	APITimeout time.Duration

	// TransferTimeout bounds a full asset download, body included.
	// Default: 30s.
	TransferTimeout time.Duration

	// MaxConnsPerHost sizes the connection pool. Set it to at least the
	// download worker count so workers never queue on dialing.
	// Default: 16.
	MaxConnsPerHost int
}

// Client talks to the design-file service. All methods are safe for
// concurrent use; the underlying transport pools connections.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	api       *http.Client
	transfer  *http.Client
	log       *slog.Logger
}

// NewClient creates a service client. Zero option fields get defaults.
func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.APITimeout <= 0 {
		opts.APITimeout = 15 * time.Second
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 30 * time.Second
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 16
	}
	if log == nil {
		log = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		MaxIdleConns:        opts.MaxConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		token:     opts.Token,
		userAgent: opts.UserAgent,
		api: &http.Client{
			Transport: transport,
			Timeout:   opts.APITimeout,
		},
		transfer: &http.Client{
			Transport: transport,
			Timeout:   opts.TransferTimeout,
		},
		log: log,
	}
}

// GetFile fetches document metadata and the complete node tree.
func (c *Client) GetFile(ctx context.Context, fileKey string) (*File, error) {
	return c.getFile(ctx, fileKey, 0)
}

// GetFileMetadata fetches document metadata with a depth-1 tree. Use it
// when only the name and version matter, e.g. change polling.
func (c *Client) GetFileMetadata(ctx context.Context, fileKey string) (*File, error) {
	return c.getFile(ctx, fileKey, 1)
}

func (c *Client) getFile(ctx context.Context, fileKey string, depth int) (*File, error) {
	const op = "get file"

	u := c.baseURL + "/v1/files/" + url.PathEscape(fileKey)
	if depth > 0 {
		u += "?depth=" + strconv.Itoa(depth)
	}

	resp, err := c.doAPI(ctx, op, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxTreeResponseSize))
	if err := dec.Decode(&fr); err != nil {
		return nil, NewFatalError(op, fmt.Errorf("decode response: %w", err))
	}
	if fr.Document == nil {
		return nil, NewFatalError(op, fmt.Errorf("response has no document node"))
	}

	return &File{
		Key:          fileKey,
		Name:         fr.Name,
		Version:      fr.Version,
		LastModified: fr.LastModified,
		Document:     fr.Document,
	}, nil
}

// RenderImages resolves node ids to asset URLs in one bulk call. Ids the
// service could not render in this call are absent from the result; the
// caller decides whether to retry them.
func (c *Client) RenderImages(ctx context.Context, fileKey string, ids []string, opts RenderOptions) (map[string]string, error) {
	const op = "render images"

	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	if opts.Format != "" {
		q.Set("format", opts.Format)
	}
	if opts.Scale > 0 {
		q.Set("scale", strconv.FormatFloat(opts.Scale, 'f', -1, 64))
	}
	u := c.baseURL + "/v1/images/" + url.PathEscape(fileKey) + "?" + q.Encode()

	c.log.Debug("render request", "file", fileKey, "ids", len(ids), "format", opts.Format)

	resp, err := c.doAPI(ctx, op, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir imagesResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxTreeResponseSize))
	if err := dec.Decode(&ir); err != nil {
		return nil, NewFatalError(op, fmt.Errorf("decode response: %w", err))
	}
	if ir.Err != "" {
		return nil, NewFatalError(op, fmt.Errorf("service error: %s", ir.Err))
	}

	out := make(map[string]string, len(ir.Images))
	for id, imageURL := range ir.Images {
		if imageURL != nil && *imageURL != "" {
			out[id] = *imageURL
		}
	}
	return out, nil
}

// Download fetches one rendered asset. The caller owns the returned body
// and must close it. The token is not sent: asset URLs are presigned.
func (c *Client) Download(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	const op = "download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, NewFatalError(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, NewTransientError(op, fmt.Errorf("request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, classifyStatus(op, resp, body)
	}
	return resp.Body, nil
}

// doAPI issues an authenticated GET and returns the response when it is
// a 200. Every other outcome is classified into the error taxonomy.
func (c *Client) doAPI(ctx context.Context, op, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, NewFatalError(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, NewTransientError(op, fmt.Errorf("request failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, classifyStatus(op, resp, body)
	}
	return resp, nil
}
