package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/app"
	"github.com/JakeFAU/hk-epaper-ingest/internal/config"
	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	"github.com/JakeFAU/hk-epaper-ingest/internal/storage/memory"
)

// useTestApp swaps the app factory for one backed by an in-memory store rooted in a temp dir.
func useTestApp(t *testing.T, store *memory.BlobStore) {
	t.Helper()
	dir := t.TempDir()
	original := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		cfg.Run.TempDir = filepath.Join(dir, "tmp")
		cfg.Run.CheckpointPath = filepath.Join(dir, "checkpoint.txt")
		cfg.Run.MissingLogPath = filepath.Join(dir, "missing.log")
		return app.New(ctx, cfg, zap.NewNop(),
			app.WithBlobStore(store),
			app.WithRegisterer(prometheus.NewRegistry()),
		)
	}
	t.Cleanup(func() { newApp = original })
}

// closeCountingApp counts Close calls on top of a real App.
type closeCountingApp struct {
	App
	closes *atomic.Int32
}

func (a closeCountingApp) Close() {
	a.closes.Add(1)
	a.App.Close()
}

func countCloses(t *testing.T) *atomic.Int32 {
	t.Helper()
	inner := newApp
	closes := &atomic.Int32{}
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		a, err := inner(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return closeCountingApp{App: a, closes: closes}, nil
	}
	t.Cleanup(func() { newApp = inner })
	return closes
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedIssue(t *testing.T, store *memory.BlobStore, publisher string, date time.Time, pages int) {
	t.Helper()
	for i := 1; i <= pages; i++ {
		key := epaper.PageKey{Publisher: publisher, Date: date, Page: i, Ext: "jpg"}
		_, err := store.PutObject(context.Background(), key.String(), "image/jpeg", []byte("page"))
		require.NoError(t, err)
	}
}

func TestPublishersCommandSkipsApp(t *testing.T) {
	original := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		t.Fatal("publishers must not build the app")
		return nil, nil
	}
	t.Cleanup(func() { newApp = original })

	out, err := execute(t, "", "publishers")
	require.NoError(t, err)
	assert.Contains(t, out, "TaKungPao")
	assert.Contains(t, out, "am730")
	assert.Contains(t, out, "probe")
}

func TestListCommand(t *testing.T) {
	store := memory.NewBlobStore()
	useTestApp(t, store)
	seedIssue(t, store, "TaKungPao", time.Date(2018, 6, 10, 0, 0, 0, 0, time.UTC), 2)
	seedIssue(t, store, "TaKungPao", time.Date(2018, 7, 1, 0, 0, 0, 0, time.UTC), 1)

	out, err := execute(t, "", "list", "2018", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "TaKungPao/2018/06/10/001.jpg")
	assert.Contains(t, out, "TaKungPao/2018/06/10/002.jpg")
	assert.NotContains(t, out, "2018/07/01")
	assert.Contains(t, out, "2 pages")
}

func TestListCommandRejectsBadArgs(t *testing.T) {
	useTestApp(t, memory.NewBlobStore())

	_, err := execute(t, "", "list", "twenty")
	require.ErrorContains(t, err, "invalid date component")
}

func TestPurgeCommand(t *testing.T) {
	date := time.Date(2018, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("confirmed", func(t *testing.T) {
		store := memory.NewBlobStore()
		useTestApp(t, store)
		seedIssue(t, store, "TaKungPao", date, 3)

		out, err := execute(t, "y\n", "purge", "2018-06-10")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 3 pages.")
		assert.Empty(t, store.Keys())
	})

	t.Run("declined", func(t *testing.T) {
		store := memory.NewBlobStore()
		useTestApp(t, store)
		seedIssue(t, store, "TaKungPao", date, 3)

		out, err := execute(t, "n\n", "purge", "2018-06-10")
		require.NoError(t, err)
		assert.Contains(t, out, "Aborted.")
		assert.Len(t, store.Keys(), 3)
	})

	t.Run("yes flag", func(t *testing.T) {
		store := memory.NewBlobStore()
		useTestApp(t, store)
		seedIssue(t, store, "am730", date, 2)

		out, err := execute(t, "", "purge", "--publisher", "am730", "--yes", "2018-06-10")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 2 pages.")
	})

	t.Run("bad date", func(t *testing.T) {
		useTestApp(t, memory.NewBlobStore())

		_, err := execute(t, "", "purge", "--yes", "10/06/2018")
		require.ErrorContains(t, err, "YYYY-MM-DD")
	})
}

func TestScrapeCommandWithNothingToDo(t *testing.T) {
	store := memory.NewBlobStore()
	useTestApp(t, store)

	out, err := execute(t, "", "scrape", "--start", "2999-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "PAGES STORED")
	assert.Zero(t, store.Puts())
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	useTestApp(t, memory.NewBlobStore())

	_, err := execute(t, "", "scrape", "--publisher", "nope")
	require.ErrorContains(t, err, "load config")
}

func TestAppClosedWhenCommandFails(t *testing.T) {
	useTestApp(t, memory.NewBlobStore())
	closes := countCloses(t)

	_, err := execute(t, "", "list", "twenty")
	require.Error(t, err)
	assert.Equal(t, int32(1), closes.Load())
}

func TestAppClosedWhenCommandSucceeds(t *testing.T) {
	useTestApp(t, memory.NewBlobStore())
	closes := countCloses(t)

	_, err := execute(t, "", "list")
	require.NoError(t, err)
	assert.Equal(t, int32(1), closes.Load())
}

func TestGetCommand(t *testing.T) {
	date := time.Date(2018, 6, 10, 0, 0, 0, 0, time.UTC)

	t.Run("to file", func(t *testing.T) {
		store := memory.NewBlobStore()
		useTestApp(t, store)
		seedIssue(t, store, "TaKungPao", date, 2)
		dest := filepath.Join(t.TempDir(), "page.jpg")

		_, err := execute(t, "", "get", "2018-06-10", "2", "--output", dest)
		require.NoError(t, err)
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "page", string(data))
	})

	t.Run("to stdout", func(t *testing.T) {
		store := memory.NewBlobStore()
		useTestApp(t, store)
		seedIssue(t, store, "TaKungPao", date, 1)

		out, err := execute(t, "", "get", "2018-06-10", "1", "-o", "-")
		require.NoError(t, err)
		assert.Equal(t, "page", out)
	})

	t.Run("missing page", func(t *testing.T) {
		useTestApp(t, memory.NewBlobStore())

		_, err := execute(t, "", "get", "2018-06-10", "3", "-o", "-")
		require.ErrorIs(t, err, epaper.ErrNotFound)
	})

	t.Run("bad page", func(t *testing.T) {
		useTestApp(t, memory.NewBlobStore())

		_, err := execute(t, "", "get", "2018-06-10", "zero", "-o", "-")
		require.ErrorContains(t, err, "invalid page number")
	})
}

func TestResolveAppWithoutInit(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
