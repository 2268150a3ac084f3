// Package subject answers whether an identifier belongs to a known account.
// The challenge flow refuses to issue codes for identifiers the host system
// does not recognize.
package subject

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// StaticChecker accepts every identifier, or only a fixed set when one is
// given. It backs development setups and tests.
type StaticChecker struct {
	mu    sync.RWMutex
	known map[string]struct{}
}

// NewStaticChecker builds a checker over the given identifiers. An empty
// list means every identifier is known.
func NewStaticChecker(identifiers []string) *StaticChecker {
	known := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		known[id] = struct{}{}
	}

	return &StaticChecker{known: known}
}

func (c *StaticChecker) Exists(_ context.Context, identifier string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.known) == 0 {
		return true, nil
	}

	_, ok := c.known[identifier]

	return ok, nil
}

// HTTPChecker asks the host account service over HTTP. A 200 means the
// identifier exists, a 404 means it does not, anything else is an error.
type HTTPChecker struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type HTTPCheckerConfig struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPChecker(cfg HTTPCheckerConfig) *HTTPChecker {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	return &HTTPChecker{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   cfg.Client,
	}
}

func (c *HTTPChecker) Exists(ctx context.Context, identifier string) (bool, error) {
	u := c.endpoint + "?identifier=" + url.QueryEscape(identifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("build subject check request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("subject check call: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse
		resp.Body.Close()              //nolint:errcheck // read-only response
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("subject check returned status %d", resp.StatusCode)
	}
}
