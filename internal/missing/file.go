package missing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// FileLog appends one console-encoded line per missing page.
type FileLog struct {
	file   *os.File
	logger *zap.Logger
}

var _ epaper.MissingLog = (*FileLog)(nil)

// NewFileLog opens path for appending. truncate empties the file first.
func NewFileLog(path string, truncate bool) (*FileLog, error) {
	if path == "" {
		return nil, fmt.Errorf("missing log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create missing log dir: %w", err)
		}
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600) // #nosec G304 -- operator supplied path.
	if err != nil {
		return nil, fmt.Errorf("open missing log %s: %w", path, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = zapcore.OmitKey
	encCfg.StacktraceKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	return &FileLog{file: f, logger: zap.New(core)}, nil
}

// Record implements epaper.MissingLog.
func (l *FileLog) Record(_ context.Context, page epaper.MissingPage) error {
	l.logger.Warn("missing page",
		zap.String("publisher", page.Publisher),
		zap.String("date", page.Date.Format(time.DateOnly)),
		zap.Int("page", page.Page),
		zap.String("url", page.URL),
		zap.String("kind", string(page.Kind)),
		zap.String("reason", page.Reason),
	)
	return nil
}

// Close flushes and closes the file.
func (l *FileLog) Close() error {
	_ = l.logger.Sync()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close missing log: %w", err)
	}
	return nil
}
