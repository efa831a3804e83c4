package ingest

import (
	"context"
	"crypto/sha512"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher retrieves the raw bytes behind a URL. Catalog documents and
// distribution resources share the same transport.
type Fetcher interface {
	Fetch(ctx context.Context, url string, verifySSL bool) ([]byte, error)
}

// HTTPFetcher is the production Fetcher: a shared rate limiter in front of
// two HTTP clients, one verifying TLS and one not. Source portals routinely
// serve expired or self-signed certificates, so verification is per-node.
type HTTPFetcher struct {
	limiter  *rate.Limiter
	verify   *http.Client
	insecure *http.Client
}

// NewHTTPFetcher creates a fetcher limited to ratePerSec requests per second
// with the given burst, each request bounded by timeout.
func NewHTTPFetcher(timeout time.Duration, ratePerSec float64, burst int) *HTTPFetcher {
	if burst < 1 {
		burst = 1
	}
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &HTTPFetcher{
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		verify:   &http.Client{Timeout: timeout},
		insecure: &http.Client{Timeout: timeout, Transport: insecureTransport},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, verifySSL bool) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	client := f.insecure
	if verifySSL {
		client = f.verify
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, nil
}

// HashBytes returns the hex SHA-512 digest used to detect content changes.
func HashBytes(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}
