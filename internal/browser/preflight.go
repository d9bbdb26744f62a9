package browser

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/lance13c/uimap/internal/logging"
)

// retryLogger routes retryablehttp's chatter into the debug log
type retryLogger struct{}

func (retryLogger) Printf(format string, v ...interface{}) {
	logging.Debug("[http] "+format, v...)
}

// newHTTPClient builds a retrying client that tolerates self-signed device
// certificates
func newHTTPClient(retries int, timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = retryLogger{}
	client.HTTPClient.Timeout = timeout
	client.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		Proxy:           http.ProxyFromEnvironment,
	}
	return client
}

// PreflightResult describes the device web server before a browser starts
type PreflightResult struct {
	URL     string
	Status  int
	Server  string
	Elapsed time.Duration
}

// Preflight checks the device UI answers HTTP before a browser is launched.
// Any status below 500 counts as reachable; admin UIs often answer 401.
func Preflight(ctx context.Context, url string, retries int) (*PreflightResult, error) {
	client := newHTTPClient(retries, 10*time.Second)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid device URL %s: %w", url, err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device %s unreachable: %w", url, err)
	}
	defer resp.Body.Close()

	res := &PreflightResult{
		URL:     url,
		Status:  resp.StatusCode,
		Server:  resp.Header.Get("Server"),
		Elapsed: time.Since(start),
	}
	if resp.StatusCode >= 500 {
		return res, fmt.Errorf("device %s answered %d", url, resp.StatusCode)
	}
	logging.Info("Device reachable%s", logging.KV("url", url, "status", res.Status, "server", res.Server, "elapsed", res.Elapsed))
	return res, nil
}
