package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	"github.com/JakeFAU/hk-epaper-ingest/internal/locator"
	"github.com/JakeFAU/hk-epaper-ingest/internal/progress"
	"github.com/JakeFAU/hk-epaper-ingest/internal/sink"
	"github.com/JakeFAU/hk-epaper-ingest/internal/storage/memory"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakeLocator struct {
	mu      sync.Mutex
	results map[string]locator.Result
	calls   []string
}

func (l *fakeLocator) Locate(_ context.Context, date time.Time) locator.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := date.Format(time.DateOnly)
	l.calls = append(l.calls, key)
	if res, ok := l.results[key]; ok {
		return res
	}
	return locator.NotFound()
}

// pdfs builds single-page PDF artifacts numbered contiguously.
func pdfs(urls ...string) locator.Result {
	arts := make([]epaper.Artifact, 0, len(urls))
	for i, u := range urls {
		arts = append(arts, epaper.Artifact{URL: u, Index: i, FirstPage: i + 1, ExpectedPages: 1, Kind: epaper.ArtifactPDF})
	}
	return locator.Found("index", arts)
}

type download struct {
	body   string
	err    error
	vanish bool
}

// fakeFetcher serves downloads from a URL table; unknown URLs are 404s.
type fakeFetcher struct {
	mu        sync.Mutex
	downloads map[string]download
	calls     []string
	dests     []string
}

func (f *fakeFetcher) Get(context.Context, string) (epaper.Response, error) {
	return epaper.Response{}, errors.New("unexpected Get")
}

func (f *fakeFetcher) Head(context.Context, string) (int, error) {
	return 0, errors.New("unexpected Head")
}

func (f *fakeFetcher) Download(_ context.Context, url string, dest string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.dests = append(f.dests, dest)
	d, ok := f.downloads[url]
	if !ok {
		return 0, epaper.StatusError(url, 404)
	}
	if d.err != nil {
		return 0, d.err
	}
	if d.vanish {
		_ = os.Remove(dest)
		return 0, nil
	}
	if err := os.WriteFile(dest, []byte(d.body), 0o600); err != nil {
		return 0, err
	}
	return int64(len(d.body)), nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeRenderer interprets the downloaded bytes: "bad" fails the artifact, "zero" has no pages,
// "fail-page-N" fails page N, "short" yields one page fewer than expected.
type fakeRenderer struct {
	mu    sync.Mutex
	paths []string
}

func (r *fakeRenderer) Render(_ context.Context, path string, expected int) ([]epaper.RenderedImage, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", epaper.ErrRender, err)
	}
	body := string(data)
	switch {
	case body == "bad":
		return nil, fmt.Errorf("%w: corrupt pdf", epaper.ErrRender)
	case body == "zero":
		return nil, epaper.ErrNoPages
	case body == "short":
		expected--
	}
	out := make([]epaper.RenderedImage, 0, expected)
	for i := 1; i <= expected; i++ {
		img := epaper.RenderedImage{Page: i, Format: "jpeg", Data: []byte(fmt.Sprintf("%s#%d", body, i))}
		if body == fmt.Sprintf("fail-page-%d", i) {
			img.Data = nil
			img.Err = fmt.Errorf("%w: page %d", epaper.ErrRender, i)
		}
		out = append(out, img)
	}
	return out, nil
}

type fakeCheckpoint struct {
	mu      sync.Mutex
	next    time.Time
	ok      bool
	loadErr error
	saved   []time.Time
}

func (c *fakeCheckpoint) Load() (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next, c.ok, c.loadErr
}

func (c *fakeCheckpoint) Save(date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, date)
	c.next, c.ok = date.AddDate(0, 0, 1), true
	return nil
}

func (c *fakeCheckpoint) Saved() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.saved))
	for _, d := range c.saved {
		out = append(out, d.Format(time.DateOnly))
	}
	return out
}

type recordingMissing struct {
	mu      sync.Mutex
	entries []epaper.MissingPage
}

func (m *recordingMissing) Record(_ context.Context, page epaper.MissingPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, page)
	return nil
}

type recordingPauser struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, d)
}

func (p *recordingPauser) count(d time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == d {
			n++
		}
	}
	return n
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubHasher struct{}

func (stubHasher) Hash(data []byte) string { return fmt.Sprintf("len-%d", len(data)) }

// harness bundles a Runner with its fakes.
type harness struct {
	cfg        epaper.RunConfig
	locator    *fakeLocator
	fetcher    *fakeFetcher
	renderer   *fakeRenderer
	store      *memory.BlobStore
	checkpoint *fakeCheckpoint
	missing    *recordingMissing
	pauser     *recordingPauser
	events     *recordingEmitter
	now        time.Time
}

func newHarness(t *testing.T, start, end string) *harness {
	t.Helper()
	return &harness{
		cfg: epaper.RunConfig{
			Publisher:       epaper.TaKungPao,
			Start:           day(start),
			End:             day(end),
			CheckpointPath:  "checkpoint.txt",
			TempDir:         t.TempDir(),
			ResumeMode:      epaper.ResumeCheckpoint,
			PartialPolicy:   epaper.PartialHalt,
			AbortOnError:    true,
			PageDelay:       100 * time.Millisecond,
			DateDelay:       time.Second,
			BatchPauseEvery: 10,
			BatchPause:      5 * time.Second,
		},
		locator:    &fakeLocator{results: map[string]locator.Result{}},
		fetcher:    &fakeFetcher{downloads: map[string]download{}},
		renderer:   &fakeRenderer{},
		store:      memory.NewBlobStore(),
		checkpoint: &fakeCheckpoint{},
		missing:    &recordingMissing{},
		pauser:     &recordingPauser{},
		events:     &recordingEmitter{},
		now:        day(end).Add(36 * time.Hour),
	}
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	s, err := sink.New(h.store, "", zap.NewNop())
	require.NoError(t, err)
	r, err := New(h.cfg, Deps{
		Locator:    h.locator,
		Fetcher:    h.fetcher,
		Renderer:   h.renderer,
		Sink:       s,
		Checkpoint: h.checkpoint,
		Missing:    h.missing,
		Progress:   h.events,
		Clock:      fixedClock{now: h.now},
		Pauser:     h.pauser,
		Hasher:     stubHasher{},
	})
	require.NoError(t, err)
	return r
}

func (h *harness) keys() []string {
	return h.store.Keys()
}

func tkpKey(date string, page int) string {
	return fmt.Sprintf("TaKungPao/%s/%03d.jpg", strings.ReplaceAll(date, "-", "/"), page)
}
