package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/textileio/go-tonconnect/buildinfo"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

const maxManifestSize = 64 << 10

var (
	// ErrNotFound indicates the manifest couldn't be downloaded.
	ErrNotFound = errors.New("manifest not found")
	// ErrContent indicates the manifest was downloaded but is invalid.
	ErrContent = errors.New("invalid manifest content")
)

// Fetcher downloads dApp manifests.
type Fetcher interface {
	Fetch(ctx context.Context, manifestURL string) (*tonconnect.Manifest, error)
}

// HTTPFetcher fetches manifests over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, manifestURL string) (*tonconnect.Manifest, error) {
	u, err := url.Parse(manifestURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: bad url %q", ErrNotFound, manifestURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %s", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNotFound, res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxManifestSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %s", ErrNotFound, err)
	}
	if len(data) > maxManifestSize {
		return nil, fmt.Errorf("%w: manifest is larger than %d bytes", ErrContent, maxManifestSize)
	}

	var m tonconnect.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrContent, err)
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields every manifest must have.
func Validate(m tonconnect.Manifest) error {
	if m.URL == "" {
		return fmt.Errorf("%w: url is missing", ErrContent)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: name is missing", ErrContent)
	}
	return nil
}

// Domain returns the host of the dApp url, which is what proofs are bound to.
func Domain(appURL string) string {
	u, err := url.Parse(appURL)
	if err != nil {
		return ""
	}
	return u.Host
}
