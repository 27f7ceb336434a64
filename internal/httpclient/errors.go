package httpclient

import "fmt"

// UpstreamError represents an error returned by an upstream service.
// The raw body is kept for internal logging only; Error() never includes it
// so provider payloads cannot leak into client-facing messages.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}
