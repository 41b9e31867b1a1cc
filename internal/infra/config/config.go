package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Classify ClassifyConfig `mapstructure:"classify" yaml:"classify"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type HTTPConfig struct {
	// BaseURL resolves origin-relative resource URLs such as "/a/progressive/..."
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// RequestTimeout bounds the wait for headers and each stall in a body, not the transfer
	RequestTimeout time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
	Cookies        []CookieConfig    `mapstructure:"cookies" yaml:"cookies"`
	Headers        map[string]string `mapstructure:"headers" yaml:"headers"`
	Transport      string            `mapstructure:"transport" yaml:"transport"`
	ChunkRate      float64           `mapstructure:"chunk_rate" yaml:"chunk_rate"`
	DirectRetries  int               `mapstructure:"direct_retries" yaml:"direct_retries"`
}

// CookieConfig is a session credential sent to one host.
type CookieConfig struct {
	Host  string `mapstructure:"host" yaml:"host"`
	Value string `mapstructure:"value" yaml:"value"`
}

type CaptureConfig struct {
	MetadataTimeout  time.Duration `mapstructure:"metadata_timeout" yaml:"metadata_timeout"`
	ImageLoadTimeout time.Duration `mapstructure:"image_load_timeout" yaml:"image_load_timeout"`
	RecordDeadline   time.Duration `mapstructure:"record_deadline" yaml:"record_deadline"`
	Timeslice        time.Duration `mapstructure:"timeslice" yaml:"timeslice"`
	VideoBitrate     int           `mapstructure:"video_bitrate" yaml:"video_bitrate"`
	Encodings        []string      `mapstructure:"encodings" yaml:"encodings"`
	FFmpegPath       string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath      string        `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
}

type ClassifyConfig struct {
	RestrictedPatterns []string `mapstructure:"restricted_patterns" yaml:"restricted_patterns"`
}

type DownloadConfig struct {
	OutDir     string `mapstructure:"out_dir" yaml:"out_dir"`
	Workers    int    `mapstructure:"workers" yaml:"workers"`
	NamePrefix string `mapstructure:"name_prefix" yaml:"name_prefix"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	BlobDir     string `mapstructure:"blob_dir" yaml:"blob_dir"`
}

// DefaultEncodings is the recording preference list, best first.
var DefaultEncodings = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
	"video/mp4",
}

// DefaultRestrictedPatterns match origin-internal media paths.
var DefaultRestrictedPatterns = []string{
	`/a/progressive/`,
	`/document`,
	`^/`,
	`web\.telegram\.org/a/`,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.request_timeout", "60s")
	v.SetDefault("http.transport", "standard")
	v.SetDefault("http.chunk_rate", 0)
	v.SetDefault("http.direct_retries", 2)
	v.SetDefault("capture.metadata_timeout", "5s")
	v.SetDefault("capture.image_load_timeout", "10s")
	v.SetDefault("capture.record_deadline", "5m")
	v.SetDefault("capture.timeslice", "1s")
	v.SetDefault("capture.video_bitrate", 2500000)
	v.SetDefault("capture.encodings", DefaultEncodings)
	v.SetDefault("classify.restricted_patterns", DefaultRestrictedPatterns)
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.workers", 2)
	v.SetDefault("download.name_prefix", "media")
	v.SetDefault("log.path", "mediafetch.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "./data/mediafetch.db")
	v.SetDefault("store.blob_dir", "./data/blobs")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// defaults are static, a failure here is a programming error
		panic(err)
	}
	_ = cfg.validate()
	return &cfg
}

// Load reads path, falling back to /config/config.yaml and then to defaults
// when the default path does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path != "config.yaml" {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		// FALLBACK: Docker style mount
		if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
			path = "/config/config.yaml"
		} else {
			path = ""
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("MEDIAFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.HTTP.Transport {
	case "", "standard":
		c.HTTP.Transport = "standard"
	case "browser":
	default:
		return fmt.Errorf("http.transport must be 'standard' or 'browser', got %q", c.HTTP.Transport)
	}

	if c.HTTP.RequestTimeout <= 0 {
		// per-chunk timeouts must stay finite
		c.HTTP.RequestTimeout = 60 * time.Second
	}
	if c.HTTP.ChunkRate < 0 {
		return errors.New("http.chunk_rate cannot be negative")
	}
	for i, ck := range c.HTTP.Cookies {
		if ck.Host == "" || ck.Value == "" {
			return fmt.Errorf("http.cookies[%d] requires host and value", i)
		}
	}
	if c.HTTP.DirectRetries < 0 {
		c.HTTP.DirectRetries = 0
	}

	if c.Capture.MetadataTimeout <= 0 {
		c.Capture.MetadataTimeout = 5 * time.Second
	}
	if c.Capture.ImageLoadTimeout <= 0 {
		c.Capture.ImageLoadTimeout = 10 * time.Second
	}
	if c.Capture.RecordDeadline <= 0 {
		c.Capture.RecordDeadline = 5 * time.Minute
	}
	if c.Capture.Timeslice <= 0 {
		c.Capture.Timeslice = time.Second
	}
	if c.Capture.VideoBitrate <= 0 {
		c.Capture.VideoBitrate = 2500000
	}
	if len(c.Capture.Encodings) == 0 {
		c.Capture.Encodings = append([]string(nil), DefaultEncodings...)
	}

	if len(c.Classify.RestrictedPatterns) == 0 {
		c.Classify.RestrictedPatterns = append([]string(nil), DefaultRestrictedPatterns...)
	}
	for _, p := range c.Classify.RestrictedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("classify.restricted_patterns: invalid pattern %q: %w", p, err)
		}
	}

	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}
	if c.Download.Workers <= 0 {
		c.Download.Workers = 1
	}

	switch c.Store.Driver {
	case "", "sqlite":
		c.Store.Driver = "sqlite"
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "./data/mediafetch.db"
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("store.driver must be 'sqlite' or 'postgres', got %q", c.Store.Driver)
	}
	if c.Store.BlobDir == "" {
		c.Store.BlobDir = "./data/blobs"
	}

	return nil
}
