package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// maxConfigSize bounds the downloaded document
const maxConfigSize = 1 << 20

// ErrConfigTooLarge means the server sent more than maxConfigSize bytes
var ErrConfigTooLarge = errors.New("configuration exceeds the maximum size")

// newHTTPClient returns a client that retries only when no response was
// received at all. Any response means the token may have been spent.
func newHTTPClient(logger *zap.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if resp == nil && err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) && urlErr.Timeout() {
				return false, err
			}
			logger.Debug("Retrying download", zap.Error(err))
			return true, nil
		}
		return false, nil
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// DownloadError is a non-success response from the download endpoint
type DownloadError struct {
	StatusCode int
	Message    string
}

func (e *DownloadError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("download failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("download failed with status %d", e.StatusCode)
}

// download redeems token at serverURL and returns the configuration
func download(ctx context.Context, client *retryablehttp.Client, serverURL, token string) ([]byte, error) {
	target := serverURL + "/download?token=" + url.QueryEscape(token)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download configuration: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if len(body) > maxConfigSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrConfigTooLarge, maxConfigSize)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}
