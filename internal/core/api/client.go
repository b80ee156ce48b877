package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/engine"
	"github.com/xwander/tablewright/internal/metrics"
)

// DefaultBaseURL is the public service endpoint.
const DefaultBaseURL = "https://api.airtable.com"

const maxResponseBytes = 8 << 20

// Client talks to the records and metadata endpoints of the service.
//
// Every call except SendChunk takes a token from the limiter of its base.
// SendChunk is driven by engine.Executor, which acquires before each chunk.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Limiters   *engine.Limiters
	UserAgent  string
	Logger     *logging.Logger
	Clock      func() time.Time
}

// New returns a client for baseURL authenticating with token.
func New(baseURL, token string, limiters *engine.Limiters) *Client {
	return &Client{
		BaseURL:  baseURL,
		Token:    token,
		Limiters: limiters,
	}
}

type request struct {
	method string
	// path is already escaped.
	path    string
	query   url.Values
	body    any
	baseID  string
	acquire bool
	// resource describes the addressed object for 404 errors.
	resourceType string
	resourceID   string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if c == nil {
		return errors.New("api client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(c.Token) == "" {
		return &core.AuthenticationError{Message: "api token is not configured"}
	}

	if r.acquire && r.baseID != "" && c.Limiters != nil {
		if err := c.Limiters.For(r.baseID).Acquire(ctx); err != nil {
			return err
		}
	}

	ref := &url.URL{RawPath: r.path}
	ref.Path, _ = url.PathUnescape(r.path)
	reqURL := c.baseURL().ResolveReference(ref)
	if len(r.query) > 0 {
		reqURL.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.Token))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ua := strings.TrimSpace(c.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	requestID := core.RequestIDFrom(ctx)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	started := c.now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(r.method, 0)
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	metrics.RecordUpstreamRequest(r.method, resp.StatusCode)
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if c.Logger != nil {
		c.Logger.Debug("api request",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", c.now().Sub(started)),
			zap.String("request_id", requestID))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp, data, r.resourceType, r.resourceID, c.now())
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", r.method, r.path, err)
	}
	return nil
}

func (c *Client) baseURL() *url.URL {
	if c != nil && c.BaseURL != "" {
		if parsed, err := url.Parse(strings.TrimRight(c.BaseURL, "/")); err == nil {
			return parsed
		}
	}
	parsed, _ := url.Parse(DefaultBaseURL)
	return parsed
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) now() time.Time {
	if c != nil && c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

func tablePath(baseID, table string) string {
	return "/v0/" + url.PathEscape(strings.TrimSpace(baseID)) + "/" + url.PathEscape(strings.TrimSpace(table))
}
