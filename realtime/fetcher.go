package realtime

import (
	"context"
	"encoding/json"
)

// FetchResult is the outcome of one conditional fetch cycle.
type FetchResult struct {
	// Changed reports whether the resource changed since the validation
	// token the request carried. When false, Payload and Token are empty.
	Changed bool

	// Payload is the raw resource body when Changed is true.
	Payload json.RawMessage

	// Token is the opaque validation token to echo on the next request
	// (e.g. an ETag).
	Token string
}

// Fetcher performs a conditional fetch of a changing resource. The
// validationToken is the opaque value from the previous changed response, or
// empty on the first cycle, and lets the server answer "nothing changed"
// cheaply.
type Fetcher interface {
	Fetch(ctx context.Context, resourceKey, validationToken string) (*FetchResult, error)
}

// AlertFetchResult is the outcome of one alert poll cycle.
type AlertFetchResult struct {
	// Changed reports whether the pending-alert set changed since the
	// validation token the request carried.
	Changed bool

	// Alerts is the ordered list of pending alerts when Changed is true.
	Alerts []TimerAlert

	// Token is the opaque validation token to echo on the next request.
	Token string
}

// AlertFetcher fetches the pending-alert set for a resource.
type AlertFetcher interface {
	FetchAlerts(ctx context.Context, resourceKey, validationToken string) (*AlertFetchResult, error)
}

// Acknowledger is the fire-and-forget side channel that tells the server a
// specific alert threshold was handled by the operator.
type Acknowledger interface {
	AcknowledgeAlert(ctx context.Context, timerID string, alertMinutes int) error
}
