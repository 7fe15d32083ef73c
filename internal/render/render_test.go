package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

type fakeDoc struct {
	pages   int
	failOn  map[int]bool
	closed  bool
	dpiSeen []float64
}

func (d *fakeDoc) NumPage() int { return d.pages }

func (d *fakeDoc) ImageDPI(page int, dpi float64) (*image.RGBA, error) {
	d.dpiSeen = append(d.dpiSeen, dpi)
	if d.failOn[page] {
		return nil, errors.New("corrupt content stream")
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img, nil
}

func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

func newFakeRenderer(doc *fakeDoc) *Renderer {
	r := New(Config{}, zap.NewNop())
	r.open = func(string) (document, error) { return doc, nil }
	return r
}

func TestRenderAllPages(t *testing.T) {
	t.Parallel()

	doc := &fakeDoc{pages: 2}
	images, err := newFakeRenderer(doc).Render(context.Background(), "a.pdf", 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
	for i, img := range images {
		assert.Equal(t, i+1, img.Page)
		assert.NoError(t, img.Err)
		assert.Equal(t, "jpeg", img.Format)
		require.NotEmpty(t, img.Data)
		assert.Equal(t, []byte{0xFF, 0xD8}, img.Data[:2], "jpeg magic")
	}
	assert.True(t, doc.closed)
	assert.Equal(t, []float64{144, 144}, doc.dpiSeen)
}

func TestRenderMoreThanExpected(t *testing.T) {
	t.Parallel()

	doc := &fakeDoc{pages: 5}
	images, err := newFakeRenderer(doc).Render(context.Background(), "a.pdf", 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Len(t, doc.dpiSeen, 1)
}

func TestRenderZeroPages(t *testing.T) {
	t.Parallel()

	doc := &fakeDoc{}
	_, err := newFakeRenderer(doc).Render(context.Background(), "a.pdf", 1)
	require.ErrorIs(t, err, epaper.ErrNoPages)
	assert.True(t, doc.closed)
}

func TestRenderPageFailureKeepsSiblings(t *testing.T) {
	t.Parallel()

	doc := &fakeDoc{pages: 3, failOn: map[int]bool{1: true}}
	images, err := newFakeRenderer(doc).Render(context.Background(), "a.pdf", 0)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.NoError(t, images[0].Err)
	require.ErrorIs(t, images[1].Err, epaper.ErrRender)
	assert.Empty(t, images[1].Data)
	assert.NoError(t, images[2].Err)
}

func TestRenderCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newFakeRenderer(&fakeDoc{pages: 2}).Render(ctx, "a.pdf", 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRenderMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.pdf")
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	_, err := New(Config{Zoom: 1, Quality: 80}, nil).Render(context.Background(), path, 1)
	require.ErrorIs(t, err, epaper.ErrRender)
}
