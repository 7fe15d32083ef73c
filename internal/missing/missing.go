// Package missing records page slots that a run could not produce, so an operator can find the
// gaps without reading the full run log.
package missing

import (
	"context"
	"errors"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// Multi fans one entry out to several logs.
type Multi []epaper.MissingLog

var _ epaper.MissingLog = Multi(nil)

// Record writes page to every log and joins their errors.
func (m Multi) Record(ctx context.Context, page epaper.MissingPage) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Record(ctx, page); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every entry.
type Discard struct{}

// Record implements epaper.MissingLog.
func (Discard) Record(context.Context, epaper.MissingPage) error { return nil }
