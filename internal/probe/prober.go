package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/apiwatch/apiwatch/internal/domain"
)

const userAgent = "APIWatch/1.0"

// Failure is the transport-level class of a probe failure.
type Failure int

const (
	FailureNone Failure = iota
	FailureTimeout
	FailureConnection
)

// Outcome is the raw result of one probe: a completed HTTP exchange carrying
// any status code, or a transport failure. Judging the status code is the
// classifier's job, not the prober's.
type Outcome struct {
	Failure       Failure
	StatusCode    int      // meaningful only when Failure == FailureNone
	LatencyMS     *float64 // nil when nothing was measured (connection failures)
	ResponseBytes int64
	Err           string // transport error detail, empty on completed exchanges
}

// Completed reports whether the exchange finished with an HTTP status.
func (o Outcome) Completed() bool { return o.Failure == FailureNone }

// Prober issues a single request against an endpoint. No retries; retry
// policy belongs to the scheduler's callers, not here.
type Prober interface {
	Probe(ctx context.Context, ep domain.Endpoint) Outcome
}

type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			// A 3xx is a finished exchange; following it would hide the
			// status we are supposed to record.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, ep domain.Endpoint) Outcome {
	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, ep.URL, nil)
	if err != nil {
		return Outcome{Failure: FailureConnection, Err: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			// Elapsed time at abort, which is the timeout ceiling.
			ms := sinceMS(start)
			return Outcome{Failure: FailureTimeout, LatencyMS: &ms, Err: err.Error()}
		}
		return Outcome{Failure: FailureConnection, Err: err.Error()}
	}
	defer resp.Body.Close()

	// Drain the body so latency covers the full response and the size is
	// known. The timeout can still fire in here.
	n, err := io.Copy(io.Discard, resp.Body)
	ms := sinceMS(start)
	if err != nil {
		if isTimeout(err) {
			return Outcome{Failure: FailureTimeout, LatencyMS: &ms, Err: err.Error()}
		}
		return Outcome{Failure: FailureConnection, Err: err.Error()}
	}
	return Outcome{StatusCode: resp.StatusCode, LatencyMS: &ms, ResponseBytes: n}
}

func sinceMS(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
