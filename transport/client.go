// Package transport provides the HTTP and WebSocket implementations of the
// realtime channel interfaces: conditional polling with ETag validation
// tokens, alert fetching, acknowledge writes, and the push-channel dialer.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/BSTCMX/kidyland-realtime/realtime"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the venue backend's polling endpoints. It implements
// realtime.Fetcher, realtime.AlertFetcher, and realtime.Acknowledger.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     realtime.TokenSource
	logger     hclog.Logger
}

// NewClient creates an API client rooted at baseURL (no trailing slash).
func NewClient(baseURL string, tokens realtime.TokenSource, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
		tokens: tokens,
		logger: logger,
	}
}

// Fetch issues a conditional GET for the given resource. The validation
// token rides in If-None-Match; a 304 response means unchanged, a 200
// response carries the new payload and ETag.
func (c *Client) Fetch(ctx context.Context, resourceKey, validationToken string) (*realtime.FetchResult, error) {
	body, etag, changed, err := c.conditionalGet(ctx, resourceKey, validationToken)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &realtime.FetchResult{Changed: false}, nil
	}
	return &realtime.FetchResult{
		Changed: true,
		Payload: body,
		Token:   etag,
	}, nil
}

// FetchAlerts issues a conditional GET for the pending-alert list.
func (c *Client) FetchAlerts(ctx context.Context, resourceKey, validationToken string) (*realtime.AlertFetchResult, error) {
	body, etag, changed, err := c.conditionalGet(ctx, resourceKey, validationToken)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &realtime.AlertFetchResult{Changed: false}, nil
	}

	var alerts []realtime.TimerAlert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, errors.Wrap(err, "failed to parse alerts response")
	}
	return &realtime.AlertFetchResult{
		Changed: true,
		Alerts:  alerts,
		Token:   etag,
	}, nil
}

// AcknowledgeAlert posts a fire-and-forget acknowledgement for a specific
// timer threshold.
func (c *Client) AcknowledgeAlert(ctx context.Context, timerID string, alertMinutes int) error {
	token := c.tokens.Token()
	if token == "" {
		return realtime.ErrNoToken
	}

	payload, err := json.Marshal(map[string]interface{}{
		"timer_id":      timerID,
		"alert_minutes": alertMinutes,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode acknowledge payload")
	}

	ackURL := fmt.Sprintf("%s/api/v1/alerts/acknowledge", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ackURL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create acknowledge request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "acknowledge request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &realtime.CredentialError{StatusCode: resp.StatusCode}
	default:
		return &realtime.StatusError{StatusCode: resp.StatusCode}
	}
}

// conditionalGet performs the shared conditional-request flow and maps the
// status code onto the channel's result vocabulary.
func (c *Client) conditionalGet(ctx context.Context, resourceKey, validationToken string) (payload []byte, etag string, changed bool, err error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, "", false, realtime.ErrNoToken
	}

	resourceURL := fmt.Sprintf("%s/api/v1/%s", c.baseURL, resourceKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, "", false, errors.Wrap(err, "failed to create fetch request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if validationToken != "" {
		req.Header.Set("If-None-Match", validationToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", false, errors.Wrap(err, "fetch request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, "", false, errors.Wrap(readErr, "failed to read fetch response")
		}
		newToken := resp.Header.Get("ETag")
		c.logger.Debug("resource fetched",
			"resource", resourceKey,
			"bytes", len(body),
			"etag", newToken)
		return body, newToken, true, nil
	case http.StatusNotModified:
		c.logger.Debug("resource unchanged", "resource", resourceKey)
		return nil, "", false, nil
	case http.StatusUnauthorized:
		return nil, "", false, &realtime.CredentialError{StatusCode: resp.StatusCode}
	case http.StatusTooManyRequests:
		return nil, "", false, errors.Errorf("rate limit exceeded (HTTP %d)", resp.StatusCode)
	default:
		if resp.StatusCode >= 500 {
			return nil, "", false, errors.Errorf("server error (HTTP %d)", resp.StatusCode)
		}
		return nil, "", false, &realtime.StatusError{StatusCode: resp.StatusCode}
	}
}
