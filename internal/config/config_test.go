package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hk-epaper-ingest/internal/dates"
	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "TaKungPao", cfg.Run.Publisher)
	assert.Equal(t, "checkpoint", cfg.Run.ResumeMode)
	assert.Equal(t, "halt", cfg.Run.PartialPolicy)
	assert.True(t, cfg.Run.AbortOnError)
	assert.Equal(t, 100*time.Millisecond, cfg.Run.PageDelay)
	assert.Equal(t, time.Second, cfg.Run.DateDelay)
	assert.Equal(t, 10, cfg.Run.BatchPauseEvery)
	assert.Equal(t, 5*time.Second, cfg.Run.BatchPause)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 64<<20, cfg.HTTP.MaxBodyBytes)
	assert.InDelta(t, 2.0, cfg.Render.Zoom, 1e-9)
	assert.Equal(t, 90, cfg.Render.JPEGQuality)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "epaper", cfg.Storage.Container)
	assert.Equal(t, "takungpao_last_processed_date.txt", cfg.CheckpointPath())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
run:
  publisher: am730
  start_date: "2024-03-01"
  end_date: "2024-03-31"
  checkpoint_path: /var/lib/epaper/am730.txt
  partial_policy: continue
  abort_on_error: false
  page_delay: 250ms
http:
  user_agent: test-agent
  timeout: 45s
render:
  zoom: 1.5
  jpeg_quality: 80
storage:
  backend: gcs
  gcs:
    bucket: hk-epaper
publishers:
  am730:
    max_pages: 64
    formats:
      pdf: https://mirror.example/{date}/page{page}.pdf
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "am730", cfg.Run.Publisher)
	assert.Equal(t, 250*time.Millisecond, cfg.Run.PageDelay)
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "hk-epaper", cfg.Storage.GCS.Bucket)

	rc, err := cfg.RunConfig(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "am730", rc.Publisher.Name)
	assert.Equal(t, 64, rc.Publisher.MaxPages)
	assert.Equal(t, "https://mirror.example/{date}/page{page}.pdf", rc.Publisher.Formats[0].URLTemplate)
	assert.Equal(t, epaper.AM730.Formats[1].URLTemplate, rc.Publisher.Formats[1].URLTemplate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rc.Start)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), rc.End)
	assert.Equal(t, "/var/lib/epaper/am730.txt", rc.CheckpointPath)
	assert.Equal(t, epaper.PartialContinue, rc.PartialPolicy)
	assert.False(t, rc.AbortOnError)
	assert.Equal(t, "epaper", rc.Container)

	// Built-in profiles are not mutated by overrides.
	assert.Equal(t, 200, epaper.AM730.MaxPages)
}

func TestRunConfigDefaultsStartToToday(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	rc, err := cfg.RunConfig(time.Date(2024, 4, 2, 23, 30, 0, 0, time.FixedZone("HKT", 8*3600)))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), rc.Start)
	assert.True(t, rc.End.IsZero())
}

func TestRunConfigAllowsEmptyRange(t *testing.T) {
	t.Parallel()

	today := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "end only before today",
			end:       "2024-01-01",
			wantStart: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "start after end",
			start:     "2024-03-02",
			end:       "2024-03-01",
			wantStart: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			require.NoError(t, err)
			cfg.Run.StartDate = tt.start
			cfg.Run.EndDate = tt.end

			rc, err := cfg.RunConfig(today)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, rc.Start)
			assert.Equal(t, tt.wantEnd, rc.End)
			assert.Empty(t, dates.Range(rc.Start, rc.End, today, rc.WeekdaysOnly))
		})
	}
}

func TestLoadWithFlags(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "run:\n  publisher: am730\n  start_date: \"2024-01-01\"\n")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("publisher", "", "")
	fs.String("start", "", "")
	fs.String("end", "", "")
	fs.Bool("dry-run", false, "")
	require.NoError(t, fs.Parse([]string{"--publisher", "TaKungPao", "--dry-run"}))

	cfg, err := LoadWithFlags(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "TaKungPao", cfg.Run.Publisher, "flag beats file")
	assert.Equal(t, "2024-01-01", cfg.Run.StartDate, "unchanged flag leaves file value")
	assert.True(t, cfg.Run.DryRun)
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown publisher", body: "run:\n  publisher: apple-daily\n", want: "unknown run.publisher"},
		{name: "bad date", body: "run:\n  start_date: 10/06/2018\n", want: "run.start_date"},
		{name: "bad resume mode", body: "run:\n  resume_mode: sometimes\n", want: "run.resume_mode"},
		{name: "bad policy", body: "run:\n  partial_policy: retry\n", want: "run.partial_policy"},
		{name: "bad quality", body: "render:\n  jpeg_quality: 0\n", want: "render.jpeg_quality"},
		{name: "bad backend", body: "storage:\n  backend: s3\n", want: "storage.backend"},
		{name: "azure without credentials", body: "storage:\n  backend: azure\n", want: "connection_string"},
		{name: "half pubsub", body: "pubsub:\n  project_id: p\n", want: "pubsub"},
		{name: "negative delay", body: "run:\n  page_delay: -1s\n", want: "delays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("EPAPER_RUN_PUBLISHER", "am730")
	t.Setenv("EPAPER_STORAGE_BACKEND", "azure")
	t.Setenv("BLOB_CONNECTION_STRING", "UseDevelopmentStorage=true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "am730", cfg.Run.Publisher)
	assert.Equal(t, "azure", cfg.Storage.Backend)
	assert.Equal(t, "UseDevelopmentStorage=true", cfg.Storage.Azure.ConnectionString)
}
