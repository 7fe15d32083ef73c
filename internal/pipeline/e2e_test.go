package pipeline

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/checkpoint"
	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	collyfetcher "github.com/JakeFAU/hk-epaper-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/hk-epaper-ingest/internal/locator"
	"github.com/JakeFAU/hk-epaper-ingest/internal/sink"
	"github.com/JakeFAU/hk-epaper-ingest/internal/storage/memory"
)

type e2e struct {
	cfg        epaper.RunConfig
	mock       *httpmock.MockTransport
	store      *memory.BlobStore
	checkpoint *checkpoint.File
	now        time.Time
}

func newE2E(t *testing.T, profile epaper.Profile, date string) *e2e {
	t.Helper()
	dir := t.TempDir()
	cp, err := checkpoint.New(filepath.Join(dir, "last_processed_date.txt"))
	require.NoError(t, err)
	return &e2e{
		cfg: epaper.RunConfig{
			Publisher:      profile,
			Start:          day(date),
			End:            day(date),
			CheckpointPath: cp.Path(),
			TempDir:        filepath.Join(dir, "tmp"),
			ResumeMode:     epaper.ResumeCheckpoint,
			PartialPolicy:  epaper.PartialHalt,
			AbortOnError:   true,
		},
		mock:       httpmock.NewMockTransport(),
		store:      memory.NewBlobStore(),
		checkpoint: cp,
		now:        day(date).Add(30 * time.Hour),
	}
}

func (e *e2e) run(t *testing.T) Summary {
	t.Helper()
	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: time.Second, Transport: e.mock})
	loc, err := locator.New(e.cfg.Publisher, fetcher, zap.NewNop())
	require.NoError(t, err)
	s, err := sink.New(e.store, "", zap.NewNop())
	require.NoError(t, err)
	r, err := New(e.cfg, Deps{
		Locator:    loc,
		Fetcher:    fetcher,
		Renderer:   &fakeRenderer{},
		Sink:       s,
		Checkpoint: e.checkpoint,
		Clock:      fixedClock{now: e.now},
		Pauser:     &recordingPauser{},
	})
	require.NoError(t, err)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	return summary
}

func TestEndToEndIndexIssue(t *testing.T) {
	t.Parallel()

	e := newE2E(t, epaper.TaKungPao, "2018-06-10")
	e.mock.RegisterResponder(http.MethodGet, "http://www.takungpao.com.hk/paper/20180610.html",
		httpmock.NewStringResponder(http.StatusOK, `<html><body>
			<img src="thumb1.jpg" downloadurl="http://paper.takungpao.com/pdf/20180610/A01.pdf">
			<img src="thumb2.jpg" downloadurl="/pdf/20180610/A02.pdf">
		</body></html>`))
	e.mock.RegisterResponder(http.MethodGet, "http://paper.takungpao.com/pdf/20180610/A01.pdf",
		httpmock.NewStringResponder(http.StatusOK, "pdf-one"))
	e.mock.RegisterResponder(http.MethodGet, "http://www.takungpao.com.hk/pdf/20180610/A02.pdf",
		httpmock.NewStringResponder(http.StatusOK, "pdf-two"))

	summary := e.run(t)

	assert.Equal(t, []string{"TaKungPao/2018/06/10/001.jpg", "TaKungPao/2018/06/10/002.jpg"}, e.store.Keys())
	raw, err := os.ReadFile(e.checkpoint.Path())
	require.NoError(t, err)
	assert.Equal(t, "2018-06-10\n", string(raw))
	assert.Equal(t, 1, summary.OK)

	next, ok, err := e.checkpoint.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2018-06-11"), next)
}

func TestEndToEndHolidayIndex(t *testing.T) {
	t.Parallel()

	e := newE2E(t, epaper.TaKungPao, "2018-06-10")
	e.mock.RegisterResponder(http.MethodGet, "http://www.takungpao.com.hk/paper/20180610.html",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	summary := e.run(t)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, e.store.Keys())
	raw, err := os.ReadFile(e.checkpoint.Path())
	require.NoError(t, err)
	assert.Equal(t, "2018-06-10\n", string(raw))
}

func TestEndToEndProbeIssue(t *testing.T) {
	t.Parallel()

	date := day("2024-03-01")
	e := newE2E(t, epaper.AM730, "2024-03-01")
	pdf := e.cfg.Publisher.Formats[0]
	e.mock.RegisterResponder(http.MethodHead, e.cfg.Publisher.PageURL(pdf, date, 1),
		httpmock.NewStringResponder(http.StatusOK, ""))
	for n := 1; n <= 5; n++ {
		e.mock.RegisterResponder(http.MethodGet, e.cfg.Publisher.PageURL(pdf, date, n),
			httpmock.NewStringResponder(http.StatusOK, "page"))
	}
	e.mock.RegisterResponder(http.MethodGet, e.cfg.Publisher.PageURL(pdf, date, 6),
		httpmock.NewStringResponder(http.StatusNotFound, ""))
	e.mock.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))

	summary := e.run(t)

	assert.Equal(t, []string{
		"am730/2024/03/01/001.jpeg",
		"am730/2024/03/01/002.jpeg",
		"am730/2024/03/01/003.jpeg",
		"am730/2024/03/01/004.jpeg",
		"am730/2024/03/01/005.jpeg",
	}, e.store.Keys())
	assert.Equal(t, 1, summary.OK)
	assert.Equal(t, 5, summary.PagesStored)

	info := e.mock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET "+e.cfg.Publisher.PageURL(pdf, date, 6)])
	assert.Zero(t, info["GET "+e.cfg.Publisher.PageURL(pdf, date, 7)])
}

func TestEndToEndProbeFallsBackToImages(t *testing.T) {
	t.Parallel()

	date := day("2024-03-01")
	e := newE2E(t, epaper.AM730, "2024-03-01")
	jpg := e.cfg.Publisher.Formats[1]
	e.mock.RegisterResponder(http.MethodHead, e.cfg.Publisher.PageURL(jpg, date, 1),
		httpmock.NewStringResponder(http.StatusOK, ""))
	for n := 1; n <= 2; n++ {
		e.mock.RegisterResponder(http.MethodGet, e.cfg.Publisher.PageURL(jpg, date, n),
			httpmock.NewStringResponder(http.StatusOK, "jpeg-bytes"))
	}
	e.mock.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, ""))

	summary := e.run(t)

	assert.Equal(t, []string{"am730/2024/03/01/001.jpeg", "am730/2024/03/01/002.jpeg"}, e.store.Keys())
	data, err := e.store.GetObject(context.Background(), "am730/2024/03/01/002.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data), "images are stored without rendering")
	assert.Equal(t, 2, summary.PagesStored)
}
