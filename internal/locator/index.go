package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// IndexLocator fetches the publisher's per-date index page and extracts the download links.
type IndexLocator struct {
	profile epaper.Profile
	fetcher epaper.Fetcher
	logger  *zap.Logger
}

// Locate implements Locator.
func (l *IndexLocator) Locate(ctx context.Context, date time.Time) Result {
	indexURL := l.profile.IndexURL(date)
	logger := l.logger.With(zap.String("date", date.Format(time.DateOnly)), zap.String("url", indexURL))
	logger.Info("fetching index page")

	resp, err := l.fetcher.Get(ctx, indexURL)
	if err != nil {
		if errors.Is(err, epaper.ErrNotFound) {
			logger.Warn("index page not found, likely no issue on this date")
			return NotFound()
		}
		logger.Error("index fetch failed", zap.Error(err))
		return Failed(fmt.Errorf("fetch index %s: %w", indexURL, err))
	}

	base := resp.URL
	if base == "" {
		base = indexURL
	}
	links, err := ExtractLinks(resp.Body, base, l.profile.LinkSelector, l.profile.LinkAttr)
	if err != nil {
		logger.Error("index parse failed", zap.Error(err))
		return Failed(err)
	}
	if len(links) == 0 {
		logger.Info("index page lists no artifacts")
		return NotFound()
	}

	pages := l.profile.PagesPerArtifact
	if pages <= 0 {
		pages = 1
	}
	artifacts := make([]epaper.Artifact, 0, len(links))
	slot := 1
	for i, link := range links {
		artifacts = append(artifacts, epaper.Artifact{
			URL:           link,
			Index:         i,
			FirstPage:     slot,
			ExpectedPages: pages,
			Kind:          kindOf(link),
		})
		slot += pages
	}
	logger.Info("index page parsed", zap.Int("artifacts", len(artifacts)))
	return Found(string(epaper.StrategyIndex), artifacts)
}

// ExtractLinks returns the attr values of every element matching selector, resolved against
// base and de-duplicated in document order.
func ExtractLinks(body []byte, base, selector, attr string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index html: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse index url %q: %w", base, err)
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		raw, ok := s.Attr(attr)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		link := baseURL.ResolveReference(ref).String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links, nil
}

func kindOf(link string) epaper.ArtifactKind {
	u, err := url.Parse(link)
	if err != nil {
		return epaper.ArtifactPDF
	}
	p := strings.ToLower(u.Path)
	if strings.HasSuffix(p, ".jpg") || strings.HasSuffix(p, ".jpeg") || strings.HasSuffix(p, ".png") {
		return epaper.ArtifactImage
	}
	return epaper.ArtifactPDF
}
