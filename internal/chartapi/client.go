// Package chartapi fetches computed chart snapshots from the chart service
// and decodes chart export JSON into chart.Snapshot values.
package chartapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rewired-gh/kundlicore/internal/chart"
	"github.com/rewired-gh/kundlicore/internal/logger"
)

// maxBodyBytes caps a snapshot response.
const maxBodyBytes = 4 << 20

// ErrChartNotFound is returned when the service has no snapshot for the id.
var ErrChartNotFound = errors.New("chart not found")

// Options configures transport behavior.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client provides access to the chart snapshot service
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient creates a new chart service client. Connection errors and 5xx
// responses are retried with exponential backoff up to opts.MaxRetries.
func NewClient(baseURL string, opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = leveledLogger{}
	rc.RetryMax = opts.MaxRetries
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// FetchSnapshot retrieves and decodes the snapshot of chartID.
func (c *Client) FetchSnapshot(ctx context.Context, chartID string) (*chart.Snapshot, error) {
	if chartID == "" {
		return nil, errors.New("chart id must not be empty")
	}
	endpoint := fmt.Sprintf("%s/charts/%s/snapshot", c.baseURL, url.PathEscape(chartID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %s: %w", chartID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("snapshot %s: %w", chartID, ErrChartNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("snapshot %s: unexpected status %d", chartID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", chartID, err)
	}

	snap, err := ParseSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", chartID, err)
	}
	if snap.ChartRef == "" {
		snap.ChartRef = chartID
	}
	logger.Debug("Fetched snapshot %s: %d natal, %d transit placements, %d dasha levels",
		chartID, len(snap.Planets), len(snap.TransitPlanets), len(snap.DashaChain))
	return snap, nil
}

// leveledLogger routes retryablehttp's logs into the package logger. Retry
// chatter stays at debug; only exhausted retries surface as warnings.
type leveledLogger struct{}

func (leveledLogger) Error(msg string, kv ...interface{}) { logger.Warn("chartapi: %s %v", msg, kv) }
func (leveledLogger) Info(msg string, kv ...interface{})  { logger.Debug("chartapi: %s %v", msg, kv) }
func (leveledLogger) Debug(msg string, kv ...interface{}) { logger.Debug("chartapi: %s %v", msg, kv) }
func (leveledLogger) Warn(msg string, kv ...interface{})  { logger.Debug("chartapi: %s %v", msg, kv) }
