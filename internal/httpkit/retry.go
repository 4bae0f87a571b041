package httpkit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"syscall"
	"time"
)

// retryTransport repeats requests that failed to dial. A request whose
// body cannot be rewound is sent once.
type retryTransport struct {
	next    http.RoundTripper
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	attempt := req
	for n := 0; ; n++ {
		resp, err := t.next.RoundTrip(attempt)
		if err == nil || !dialFailed(err) || !rewindable || n == t.retries {
			return resp, err
		}

		if t.logger != nil {
			t.logger.Debug("dial failed, retrying",
				"method", req.Method,
				"host", req.URL.Host,
				"attempt", n+1,
				"max_retries", t.retries,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		attempt = req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			attempt.Body = body
		}
	}
}

// dialFailed reports whether err happened before the connection was
// established. ECONNRESET is not included: the peer may have acted.
func dialFailed(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.EHOSTUNREACH || errno == syscall.ENETUNREACH || errno == syscall.ECONNREFUSED
}
