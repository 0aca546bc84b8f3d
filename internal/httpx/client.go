package httpx

import (
	"net"
	"net/http"
	"time"
)

// Doer abstracts HTTP client operations so tests can substitute transports.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient creates an HTTP client tuned for the outbound API calls this
// service makes. Every call carries an overall deadline so a stalled upstream
// cannot hold a request open indefinitely.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}
