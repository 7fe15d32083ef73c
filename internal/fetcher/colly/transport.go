package collyfetcher

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/hk-epaper-ingest/internal/metrics"
)

// metricsTransport records every upstream round trip in the fetch collectors.
type metricsTransport struct {
	base http.RoundTripper
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("metrics transport received nil request")
	}
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		metrics.ObserveFetch(req.URL.String(), req.Method, 0, 0, time.Since(start))
		return nil, fmt.Errorf("metrics transport base roundtrip: %w", err)
	}
	metrics.ObserveFetch(req.URL.String(), req.Method, resp.StatusCode, resp.ContentLength, time.Since(start))
	return resp, nil
}
