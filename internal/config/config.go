// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Run        RunConfig                    `mapstructure:"run"`
	HTTP       HTTPConfig                   `mapstructure:"http"`
	Render     RenderConfig                 `mapstructure:"render"`
	Storage    StorageConfig                `mapstructure:"storage"`
	Logging    LoggingConfig                `mapstructure:"logging"`
	Metrics    MetricsConfig                `mapstructure:"metrics"`
	PubSub     PubSubConfig                 `mapstructure:"pubsub"`
	Ledger     LedgerConfig                 `mapstructure:"ledger"`
	Publishers map[string]PublisherOverride `mapstructure:"publishers"`
}

// RunConfig describes which dates are ingested and how the loop behaves.
type RunConfig struct {
	Publisher          string        `mapstructure:"publisher"`
	StartDate          string        `mapstructure:"start_date"`
	EndDate            string        `mapstructure:"end_date"`
	WeekdaysOnly       bool          `mapstructure:"weekdays_only"`
	TimeZone           string        `mapstructure:"time_zone"`
	CheckpointPath     string        `mapstructure:"checkpoint_path"`
	MissingLogPath     string        `mapstructure:"missing_log_path"`
	TruncateMissingLog bool          `mapstructure:"truncate_missing_log"`
	TempDir            string        `mapstructure:"temp_dir"`
	ResumeMode         string        `mapstructure:"resume_mode"`
	PartialPolicy      string        `mapstructure:"partial_policy"`
	AbortOnError       bool          `mapstructure:"abort_on_error"`
	PageDelay          time.Duration `mapstructure:"page_delay"`
	DateDelay          time.Duration `mapstructure:"date_delay"`
	BatchPauseEvery    int           `mapstructure:"batch_pause_every"`
	BatchPause         time.Duration `mapstructure:"batch_pause"`
	DryRun             bool          `mapstructure:"dry_run"`
}

// HTTPConfig configures the artifact fetcher.
type HTTPConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// RenderConfig configures PDF rasterisation.
type RenderConfig struct {
	Zoom        float64 `mapstructure:"zoom"`
	JPEGQuality int     `mapstructure:"jpeg_quality"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend   string             `mapstructure:"backend"`
	Container string             `mapstructure:"container"`
	Prefix    string             `mapstructure:"prefix"`
	GCS       GCSStorageConfig   `mapstructure:"gcs"`
	Azure     AzureStorageConfig `mapstructure:"azure"`
	Local     LocalStorageConfig `mapstructure:"local"`
}

// GCSStorageConfig points at a bucket. Container is used when Bucket is empty.
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`
}

// AzureStorageConfig holds the account connection string.
type AzureStorageConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
}

// LocalStorageConfig roots the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoggingConfig toggles zap development features and the log file tee.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// MetricsConfig enables the health and metrics listener when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// PubSubConfig enables progress notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LedgerConfig enables the Postgres missing-page ledger when DSN is set.
type LedgerConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PublisherOverride replaces URL templates of a built-in profile, e.g. when a site moves.
type PublisherOverride struct {
	IndexURLTemplate string `mapstructure:"index_url_template"`
	// Formats maps a probe format name to its replacement URL template.
	Formats  map[string]string `mapstructure:"formats"`
	MaxPages int               `mapstructure:"max_pages"`
}

// defaultMaxBodyBytes bounds one downloaded artifact.
const defaultMaxBodyBytes = 64 << 20

// flagKeys maps CLI flags onto configuration keys.
var flagKeys = map[string]string{
	"publisher": "run.publisher",
	"start":     "run.start_date",
	"end":       "run.end_date",
	"dry-run":   "run.dry_run",
}

// Load builds a Config from disk/environment with no flag overrides.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags builds a Config from disk/environment; changed flags in fs win over both.
func LoadWithFlags(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EPAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("storage.azure.connection_string", "EPAPER_STORAGE_AZURE_CONNECTION_STRING", "BLOB_CONNECTION_STRING"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.publisher", epaper.TaKungPao.Name)
	v.SetDefault("run.time_zone", "Asia/Hong_Kong")
	v.SetDefault("run.missing_log_path", "missing_pages.log")
	v.SetDefault("run.temp_dir", filepath.Join(os.TempDir(), "epaper"))
	v.SetDefault("run.resume_mode", string(epaper.ResumeCheckpoint))
	v.SetDefault("run.partial_policy", string(epaper.PartialHalt))
	v.SetDefault("run.abort_on_error", true)
	v.SetDefault("run.page_delay", "100ms")
	v.SetDefault("run.date_delay", "1s")
	v.SetDefault("run.batch_pause_every", 10)
	v.SetDefault("run.batch_pause", "5s")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_body_bytes", defaultMaxBodyBytes)
	v.SetDefault("render.zoom", 2.0)
	v.SetDefault("render.jpeg_quality", 90)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.container", "epaper")
	v.SetDefault("storage.local.base_dir", "epaper-data")
	v.SetDefault("logging.development", true)
	v.SetDefault("ledger.table", "missing_pages")
	v.SetDefault("ledger.max_conns", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := c.Profile(); err != nil {
		return err
	}
	if _, err := parseDate("run.start_date", c.Run.StartDate); err != nil {
		return err
	}
	if _, err := parseDate("run.end_date", c.Run.EndDate); err != nil {
		return err
	}
	switch epaper.ResumeMode(c.Run.ResumeMode) {
	case epaper.ResumeNone, epaper.ResumeCheckpoint, epaper.ResumeProbe:
	default:
		return fmt.Errorf("run.resume_mode must be none, checkpoint or probe, got %q", c.Run.ResumeMode)
	}
	switch epaper.PartialPolicy(c.Run.PartialPolicy) {
	case epaper.PartialHalt, epaper.PartialContinue:
	default:
		return fmt.Errorf("run.partial_policy must be halt or continue, got %q", c.Run.PartialPolicy)
	}
	if c.Run.TempDir == "" {
		return fmt.Errorf("run.temp_dir must be set")
	}
	if c.Run.PageDelay < 0 || c.Run.DateDelay < 0 || c.Run.BatchPause < 0 || c.Run.BatchPauseEvery < 0 {
		return fmt.Errorf("run delays must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Render.Zoom <= 0 {
		return fmt.Errorf("render.zoom must be > 0")
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("render.jpeg_quality must be between 1 and 100")
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCS.Bucket == "" && c.Storage.Container == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case "azure":
		if c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("storage.azure.connection_string (or BLOB_CONNECTION_STRING) must be set for the azure backend")
		}
		if c.Storage.Container == "" {
			return fmt.Errorf("storage.container must be set for the azure backend")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Profile returns the configured publisher profile with any overrides applied.
func (c Config) Profile() (epaper.Profile, error) {
	p, ok := epaper.LookupProfile(c.Run.Publisher)
	if !ok {
		return epaper.Profile{}, fmt.Errorf("unknown run.publisher %q", c.Run.Publisher)
	}
	if o, ok := c.Publishers[strings.ToLower(p.Name)]; ok {
		if o.IndexURLTemplate != "" {
			p.IndexURLTemplate = o.IndexURLTemplate
		}
		if o.MaxPages > 0 {
			p.MaxPages = o.MaxPages
		}
		for i := range p.Formats {
			if tmpl, ok := o.Formats[strings.ToLower(p.Formats[i].Name)]; ok && tmpl != "" {
				p.Formats[i].URLTemplate = tmpl
			}
		}
	}
	if err := p.Validate(); err != nil {
		return epaper.Profile{}, fmt.Errorf("publisher %s: %w", p.Name, err)
	}
	return p, nil
}

// CheckpointPath returns the configured path or a per-publisher default.
func (c Config) CheckpointPath() string {
	if c.Run.CheckpointPath != "" {
		return c.Run.CheckpointPath
	}
	return strings.ToLower(c.Run.Publisher) + "_last_processed_date.txt"
}

// RunConfig produces the immutable run description. An empty start date means today.
func (c Config) RunConfig(today time.Time) (epaper.RunConfig, error) {
	profile, err := c.Profile()
	if err != nil {
		return epaper.RunConfig{}, err
	}
	start, err := parseDate("run.start_date", c.Run.StartDate)
	if err != nil {
		return epaper.RunConfig{}, err
	}
	if start.IsZero() {
		start = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	}
	end, err := parseDate("run.end_date", c.Run.EndDate)
	if err != nil {
		return epaper.RunConfig{}, err
	}
	rc := epaper.RunConfig{
		Publisher:       profile,
		Start:           start,
		End:             end,
		WeekdaysOnly:    c.Run.WeekdaysOnly,
		CheckpointPath:  c.CheckpointPath(),
		TempDir:         c.Run.TempDir,
		Container:       c.Storage.Container,
		ResumeMode:      epaper.ResumeMode(c.Run.ResumeMode),
		PartialPolicy:   epaper.PartialPolicy(c.Run.PartialPolicy),
		AbortOnError:    c.Run.AbortOnError,
		PageDelay:       c.Run.PageDelay,
		DateDelay:       c.Run.DateDelay,
		BatchPauseEvery: c.Run.BatchPauseEvery,
		BatchPause:      c.Run.BatchPause,
		DryRun:          c.Run.DryRun,
	}
	if err := rc.Validate(); err != nil {
		return epaper.RunConfig{}, err
	}
	return rc, nil
}

func parseDate(key, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}
