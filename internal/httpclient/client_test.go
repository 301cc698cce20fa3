package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskorch/internal/id"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) {
	r.lines = append(r.lines, format)
}
func (r *recordingLogger) Info(string, ...any)  {}
func (r *recordingLogger) Warn(string, ...any)  {}
func (r *recordingLogger) Error(string, ...any) {}

func TestReadAllWithLimit(t *testing.T) {
	payload := []byte("hello")

	got, err := ReadAllWithLimit(bytes.NewReader(payload), int64(len(payload)))
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("within limit: got %q, %v", got, err)
	}

	_, err = ReadAllWithLimit(bytes.NewReader(payload), 2)
	if !IsResponseTooLarge(err) {
		t.Fatalf("expected ResponseTooLargeError, got %v", err)
	}

	got, err = ReadAllWithLimit(bytes.NewReader(payload), 0)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("unlimited: got %q, %v", got, err)
	}
}

func TestReadSnippetTruncates(t *testing.T) {
	if got := ReadSnippet(strings.NewReader("abcdef"), 3); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestClientLogsRoundTrips(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	logger := &recordingLogger{}
	client := New(time.Second, logger)
	ctx := id.WithTaskID(context.Background(), "task-1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if len(logger.lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(logger.lines))
	}
}
