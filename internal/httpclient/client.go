// Package httpclient builds the outbound HTTP client used by model adapters.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskorch/internal/id"
	"taskorch/internal/logging"
)

// New returns a client with the given overall timeout whose transport logs
// each round trip at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: WrapTransportWithLogging(http.DefaultTransport, logger),
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

// WrapTransportWithLogging logs method, host, status and latency of every
// request, tagged with the task id carried by the request context.
func WrapTransportWithLogging(base http.RoundTripper, logger logging.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingRoundTripper{base: base, logger: logging.OrNop(logger)}
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	taskID := id.TaskIDFromContext(req.Context())
	if err != nil {
		t.logger.Debug("%s %s failed after %s (task=%s): %v", req.Method, req.URL.Host, time.Since(start), taskID, err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %s (task=%s)", req.Method, req.URL.Host, resp.StatusCode, time.Since(start), taskID)
	return resp, nil
}

// ResponseTooLargeError reports that a body exceeded the read limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

// IsResponseTooLarge reports whether err is a ResponseTooLargeError.
func IsResponseTooLarge(err error) bool {
	var limitErr ResponseTooLargeError
	return errors.As(err, &limitErr)
}

// ReadAllWithLimit reads r fully unless it holds more than limit bytes.
// A limit <= 0 reads without bound.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}

// ReadSnippet returns at most limit bytes of r, discarding the rest. It is
// meant for error bodies where truncation is acceptable.
func ReadSnippet(r io.Reader, limit int64) string {
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(data)
}
