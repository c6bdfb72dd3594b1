package lookout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpstream marks any failure talking to the status API: transport
// errors, timeouts, non-2xx responses. The cycle fails before touching the
// store when it sees this.
var ErrUpstream = errors.New("status API error")

const upstreamTimeout = 10 * time.Second

// payloads are small; this just guards against a misconfigured endpoint
const maxPayloadBytes = 1 << 20

// UpstreamClient fetches the raw status document from the configured
// endpoint. No caching: every cycle sees a fresh sample.
type UpstreamClient struct {
	URL    string
	client *http.Client
}

func NewUpstreamClient(url string) *UpstreamClient {
	return &UpstreamClient{
		URL:    url,
		client: &http.Client{Timeout: upstreamTimeout},
	}
}

func (u *UpstreamClient) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstream, err)
	}
	return body, nil
}
