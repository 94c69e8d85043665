package clients

import (
	"net/http"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ajitpratap0/tributary/pkg/errors"
	"github.com/ajitpratap0/tributary/pkg/metrics"
)

// HTTPStats is a snapshot of client request counters
type HTTPStats struct {
	TotalRequests    int64   `json:"total_requests"`
	FailedRequests   int64   `json:"failed_requests"`
	RejectedRequests int64   `json:"rejected_requests"`
	SuccessRate      float64 `json:"success_rate"`
}

type requestStats struct {
	total    atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

func (s *requestStats) snapshot() HTTPStats {
	st := HTTPStats{
		TotalRequests:    s.total.Load(),
		FailedRequests:   s.failed.Load(),
		RejectedRequests: s.rejected.Load(),
	}
	if st.TotalRequests > 0 {
		st.SuccessRate = float64(st.TotalRequests-st.FailedRequests) / float64(st.TotalRequests) * 100
	}
	return st
}

// observe records one request in the counters and the Prometheus collectors
func (c *HTTPClient) observe(req *http.Request, resp *http.Response, err error, d time.Duration) {
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	if resp == nil || code >= http.StatusInternalServerError {
		c.stats.failed.Add(1)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// rejected before reaching the wire
		return
	}
	metrics.ObserveHTTP(req.URL.Host, code, d)
}
