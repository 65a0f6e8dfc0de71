package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sdassow/atomic"
)

// imagesPath is the path on the server packaged images are served from.
const imagesPath = "/ci/images/"

// downloader fetches packaged container images from the server.
type downloader struct {
	logger  logr.Logger
	baseURL *url.URL
	client  *retryablehttp.Client
}

// newDownloader constructs a downloader for the server the agent connects
// to. Only the scheme and host of serverURL are used.
func newDownloader(logger logr.Logger, serverURL string, retries int) (*downloader, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host}

	client := &retryablehttp.Client{
		Backoff:      retryablehttp.DefaultBackoff,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
		HTTPClient:   &http.Client{},
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 30 * time.Second,
		RetryMax:     retries,
		RequestLogHook: func(_ retryablehttp.Logger, r *http.Request, n int) {
			// ignore first un-retried requests
			if n == 0 {
				return
			}
			logger.Error(nil, "retrying image download", "url", r.URL, "attempt", n)
		},
	}
	return &downloader{logger: logger, baseURL: base, client: client}, nil
}

// download fetches the named image file to dest, unless dest already
// exists.
func (d *downloader) download(ctx context.Context, filename, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		d.logger.V(1).Info("image already downloaded", "path", dest)
		return nil
	}

	u := *d.baseURL
	u.Path = path.Join(imagesPath, filename)
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		return fmt.Errorf("received non-200 HTTP code: %d", res.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := atomic.WriteFile(dest, res.Body, atomic.DefaultFileMode(0o644)); err != nil {
		return fmt.Errorf("writing image to disk: %w", err)
	}
	return nil
}
