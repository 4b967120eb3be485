package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	syncerrors "github.com/alexjbarnes/deck-sync/internal/errors"
)

const (
	// pullEndpoint is the server path the change-set pull is POSTed to.
	pullEndpoint = "/pullChanges"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 60 * time.Second

	// maxResponseBytes caps response body reads. Compressed change sets
	// for even very large decks stay well under this.
	maxResponseBytes = 64 * 1024 * 1024
)

// Client posts pull requests to the collaboration server. It performs a
// single round trip per call: non-success statuses become a
// TransportError and the caller surfaces a failure notification; the
// client never retries on its own.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so subscription state is never
// POSTed to a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a pull client for the given server base URL.
// If httpClient is nil, a client with a 60-second timeout and same-host
// redirect policy is created.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// PullChanges POSTs the encoded subscription payload and returns the
// raw response body for the codec. A failed or timed-out call returns
// before any local state is touched, so subscription records are
// unaffected.
func (c *Client) PullChanges(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pullEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending pull request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading pull response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &syncerrors.TransportError{StatusCode: resp.StatusCode}
	}

	return body, nil
}
