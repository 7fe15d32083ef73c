// Package render rasterises PDF artifacts into JPEG page images using MuPDF.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

const (
	defaultZoom    = 2.0
	defaultQuality = 90
	baseDPI        = 72.0
)

// Config controls rasterisation.
type Config struct {
	Zoom    float64
	Quality int
}

type document interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

type openFunc func(path string) (document, error)

func openFitz(path string) (document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Renderer implements epaper.Renderer.
type Renderer struct {
	cfg    Config
	open   openFunc
	logger *zap.Logger
}

var _ epaper.Renderer = (*Renderer)(nil)

// New builds a Renderer backed by go-fitz.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Zoom <= 0 {
		cfg.Zoom = defaultZoom
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = defaultQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, open: openFitz, logger: logger}
}

// Render converts at most expected pages of the PDF at pdfPath. expected <= 0 renders every
// page. A page that fails to convert carries its error in RenderedImage.Err; siblings are
// still rendered.
func (r *Renderer) Render(ctx context.Context, pdfPath string, expected int) ([]epaper.RenderedImage, error) {
	doc, err := r.open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", epaper.ErrRender, pdfPath, err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			r.logger.Warn("close pdf failed", zap.String("path", pdfPath), zap.Error(cerr))
		}
	}()

	total := doc.NumPage()
	if total <= 0 {
		return nil, fmt.Errorf("%s: %w", pdfPath, epaper.ErrNoPages)
	}
	count := total
	if expected > 0 && total > expected {
		r.logger.Warn("pdf has more pages than expected, extra pages ignored",
			zap.String("path", pdfPath), zap.Int("pages", total), zap.Int("expected", expected))
		count = expected
	}

	dpi := baseDPI * r.cfg.Zoom
	images := make([]epaper.RenderedImage, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return images, err
		}
		out := epaper.RenderedImage{Page: i + 1, Format: "jpeg"}
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			out.Err = fmt.Errorf("%w: page %d: %w", epaper.ErrRender, i+1, err)
			r.logger.Error("page rasterise failed", zap.String("path", pdfPath), zap.Int("page", i+1), zap.Error(err))
			images = append(images, out)
			continue
		}
		data, err := encodeJPEG(img, r.cfg.Quality)
		if err != nil {
			out.Err = fmt.Errorf("%w: page %d: %w", epaper.ErrRender, i+1, err)
			r.logger.Error("page encode failed", zap.String("path", pdfPath), zap.Int("page", i+1), zap.Error(err))
			images = append(images, out)
			continue
		}
		out.Data = data
		images = append(images, out)
	}
	return images, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
