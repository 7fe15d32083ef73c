// Package collyfetcher implements epaper.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	"github.com/JakeFAU/hk-epaper-ingest/internal/metrics"
)

// DefaultUserAgent mimics a desktop browser; the e-paper hosts reject obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// ErrBodyTooLarge reports a download cut off at Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps response bodies; 0 means unlimited.
	MaxBodyBytes int
	Headers      http.Header
	// Transport overrides the HTTP transport (tests plug httpmock in here).
	Transport http.RoundTripper
}

// Fetcher implements epaper.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ epaper.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	metrics.Init()
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
		colly.UserAgent(cfg.UserAgent),
	)

	base := cfg.Transport
	if base == nil {
		base = newHTTPTransport()
	}
	c.WithTransport(&metricsTransport{base: base})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get fetches url and returns the body of a 2xx response.
func (f *Fetcher) Get(ctx context.Context, url string) (epaper.Response, error) {
	resp, err := f.do(ctx, http.MethodGet, url)
	if err != nil {
		return epaper.Response{}, err
	}
	if err := epaper.StatusError(url, resp.StatusCode); err != nil {
		return resp, err
	}
	return resp, nil
}

// Head issues a HEAD request and returns the status code. Non-2xx statuses are also returned as
// an *epaper.HTTPStatusError.
func (f *Fetcher) Head(ctx context.Context, url string) (int, error) {
	resp, err := f.do(ctx, http.MethodHead, url)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, epaper.StatusError(url, resp.StatusCode)
}

// Download fetches url into dest. colly buffers the whole body, so the file is written once
// the response is complete. A partial or failed download leaves no file behind. colly cuts
// bodies at MaxBodyBytes without an error; a body that fills the cap is treated as truncated.
func (f *Fetcher) Download(ctx context.Context, url string, dest string) (int64, error) {
	resp, err := f.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	if f.cfg.MaxBodyBytes > 0 && len(resp.Body) >= f.cfg.MaxBodyBytes {
		return 0, fmt.Errorf("download %s: body reached the %d byte limit: %w", url, f.cfg.MaxBodyBytes, ErrBodyTooLarge)
	}
	if err := os.WriteFile(dest, resp.Body, 0o600); err != nil {
		_ = os.Remove(dest)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return int64(len(resp.Body)), nil
}

func (f *Fetcher) do(ctx context.Context, method, url string) (epaper.Response, error) {
	var (
		result   epaper.Response
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, method, url, &fetchErr); err != nil {
		return epaper.Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(result *epaper.Response, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *epaper.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = epaper.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && r.Request != nil {
			*fetchErr = errors.Join(epaper.StatusError(r.Request.URL.String(), r.StatusCode), err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, method, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(url)
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly %s %s canceled: %w", method, url, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly %s %s failed: %w", method, url, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly %s %s failed: %w", method, url, err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
