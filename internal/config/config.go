package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/titanous/json5"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrInvalid = errors.New("invalid config")

const (
	DefaultBaseURL     = "https://handbook.unimelb.edu.au"
	DefaultOutput      = "data/handbook.json"
	DefaultStudyPeriod = "Semester 1"
	DefaultUserAgent   = "handbook-scraper/1.0 (+https://github.com/handbook-scraper)"
)

type HistoryConfig struct {
	// "sqlite" (modernc) or "libsql"
	Driver string `json:"driver"`
	// empty disables run history
	DSN string `json:"dsn"`
}

type OtlpConnConfig struct {
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

type OtlpConfig struct {
	Traces  OtlpConnConfig `json:"traces"`
	Metrics OtlpConnConfig `json:"metrics"`
}

type TelemetryConfig struct {
	Otlp OtlpConfig `json:"otlp"`
}

type ServerConfig struct {
	Addr          string `json:"addr"`
	RefreshSecret string `json:"refresh_secret"`
}

// Config is built once at process start and handed to the pipeline by value.
type Config struct {
	SearchURL        string          `json:"search_url"`
	BaseURL          string          `json:"base_url"`
	Output           string          `json:"output"`
	MaxPages         int             `json:"max_pages"`
	Concurrency      int             `json:"concurrency"`
	DelayMs          int             `json:"delay_ms"`
	AllPeriods       bool            `json:"all_periods"`
	StudyPeriod      string          `json:"study_period"`
	Year             int             `json:"year"`
	Retries          int             `json:"retries"`
	RetryBaseMs      int             `json:"retry_base_ms"`
	TimeoutSeconds   int             `json:"timeout_seconds"`
	UserAgent        string          `json:"user_agent"`
	CodesFile        string          `json:"codes_file"`
	CloudflareBypass bool            `json:"cloudflare_bypass"`
	RespectRobots    bool            `json:"respect_robots"`
	LogLevel         string          `json:"log_level"`
	History          HistoryConfig   `json:"history"`
	Telemetry        TelemetryConfig `json:"telemetry"`
	Server           ServerConfig    `json:"server"`
}

func Default() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Output:         DefaultOutput,
		Concurrency:    4,
		DelayMs:        250,
		StudyPeriod:    DefaultStudyPeriod,
		Year:           time.Now().Year(),
		Retries:        3,
		RetryBaseMs:    500,
		TimeoutSeconds: 30,
		UserAgent:      DefaultUserAgent,
		LogLevel:       "info",
		History:        HistoryConfig{Driver: "sqlite"},
		Server:         ServerConfig{Addr: ":8080"},
	}
}

func (c Config) Delay() time.Duration     { return time.Duration(c.DelayMs) * time.Millisecond }
func (c Config) RetryBase() time.Duration { return time.Duration(c.RetryBaseMs) * time.Millisecond }
func (c Config) Timeout() time.Duration   { return time.Duration(c.TimeoutSeconds) * time.Second }

// SemesterFilter reports whether candidates not offered in StudyPeriod are skipped.
func (c Config) SemesterFilter() bool { return !c.AllPeriods }

// PeriodSlug turns "Semester 1" into "semester_1", the handbook's query value.
func (c Config) PeriodSlug() string {
	return strings.ReplaceAll(strings.ToLower(strings.Join(strings.Fields(c.StudyPeriod), " ")), " ", "_")
}

// CanonicalPeriod collapses whitespace and title-cases a study period label,
// so "summer  term" is stored as "Summer Term".
func CanonicalPeriod(label string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(label), " "))
}

// ResolvedSearchURL returns the configured search URL or one built from year and period.
func (c Config) ResolvedSearchURL() string {
	if c.SearchURL != "" {
		return c.SearchURL
	}
	q := url.Values{}
	q.Set("types[]", "subject")
	q.Set("year", strconv.Itoa(c.Year))
	q.Set("study_periods[]", c.PeriodSlug())
	return strings.TrimRight(c.BaseURL, "/") + "/search?" + q.Encode()
}

func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalid, c.Concurrency)
	case c.DelayMs < 0:
		return fmt.Errorf("%w: delay_ms must not be negative", ErrInvalid)
	case c.Retries < 0:
		return fmt.Errorf("%w: retries must not be negative", ErrInvalid)
	case c.MaxPages < 0:
		return fmt.Errorf("%w: max_pages must not be negative", ErrInvalid)
	case strings.TrimSpace(c.StudyPeriod) == "":
		return fmt.Errorf("%w: study_period is empty", ErrInvalid)
	case c.Output == "":
		return fmt.Errorf("%w: output path is empty", ErrInvalid)
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("%w: base_url: %v", ErrInvalid, err)
	}
	return nil
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// ReadFile decodes name and then, when present, name.local.ext onto cfg.
// Keys absent from a file keep the value cfg already holds, so explicit zero
// values such as delay_ms: 0 or all_periods: false do take effect.
// Missing files are not an error.
func ReadFile(name string, cfg *Config) error {
	prefix, ext := splitExt(filepath.Base(name))
	localPath := filepath.Join(filepath.Dir(name), fmt.Sprintf("%s.local.%s", prefix, ext))

	for _, path := range []string{name, localPath} {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		if err := json5.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// Load layers defaults < file < environment < flags. flags may be nil.
func Load(file string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	if file != "" {
		if err := ReadFile(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if flags != nil {
		if err := applyFlags(&cfg, flags); err != nil {
			return cfg, err
		}
	}
	cfg.StudyPeriod = CanonicalPeriod(cfg.StudyPeriod)
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
			}
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, v)
			}
			return
		}
		*dst = b
	}

	str("HANDBOOK_SEARCH_URL", &cfg.SearchURL)
	str("HANDBOOK_BASE_URL", &cfg.BaseURL)
	str("HANDBOOK_OUTPUT", &cfg.Output)
	num("HANDBOOK_MAX_PAGES", &cfg.MaxPages)
	num("HANDBOOK_CONCURRENCY", &cfg.Concurrency)
	num("HANDBOOK_DELAY_MS", &cfg.DelayMs)
	flag("HANDBOOK_ALL_PERIODS", &cfg.AllPeriods)
	str("HANDBOOK_STUDY_PERIOD", &cfg.StudyPeriod)
	num("HANDBOOK_YEAR", &cfg.Year)
	num("HANDBOOK_RETRIES", &cfg.Retries)
	num("HANDBOOK_RETRY_BASE_MS", &cfg.RetryBaseMs)
	num("HANDBOOK_TIMEOUT_SECONDS", &cfg.TimeoutSeconds)
	str("HANDBOOK_USER_AGENT", &cfg.UserAgent)
	str("HANDBOOK_CODES_FILE", &cfg.CodesFile)
	flag("HANDBOOK_CLOUDFLARE_BYPASS", &cfg.CloudflareBypass)
	flag("HANDBOOK_RESPECT_ROBOTS", &cfg.RespectRobots)
	str("HANDBOOK_LOG_LEVEL", &cfg.LogLevel)
	str("HANDBOOK_HISTORY_DRIVER", &cfg.History.Driver)
	str("HANDBOOK_HISTORY_DSN", &cfg.History.DSN)
	if v, ok := lookup("HANDBOOK_OTLP_ENDPOINT"); ok && v != "" {
		cfg.Telemetry.Otlp.Traces.HttpEndpoint = v
		cfg.Telemetry.Otlp.Metrics.HttpEndpoint = v
	}
	str("HANDBOOK_ADDR", &cfg.Server.Addr)
	str("HANDBOOK_REFRESH_SECRET", &cfg.Server.RefreshSecret)
	return firstErr
}

// RegisterFlags declares every crawl option on fs. Defaults shown in help are
// informational only; unset flags never override file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("search-url", "", "search results URL (default built from --year and --study-period)")
	fs.String("base-url", d.BaseURL, "origin used to resolve subject links")
	fs.StringP("output", "o", d.Output, "snapshot output path")
	fs.Int("max-pages", 0, "search pages to read, 0 detects from pagination")
	fs.IntP("concurrency", "c", d.Concurrency, "subjects processed at once")
	fs.Int("delay-ms", d.DelayMs, "pause before each request in milliseconds")
	fs.Bool("all-periods", false, "keep subjects from every study period")
	fs.String("study-period", d.StudyPeriod, "study period to extract")
	fs.Int("year", d.Year, "handbook year")
	fs.Int("retries", d.Retries, "retries for 5xx/429 and transport failures")
	fs.Int("retry-base-ms", d.RetryBaseMs, "linear backoff step in milliseconds")
	fs.Int("timeout", d.TimeoutSeconds, "per-request timeout in seconds")
	fs.String("user-agent", d.UserAgent, "User-Agent sent with every request")
	fs.String("codes", "", "restrict to subject codes listed in a csv or ndjson file")
	fs.Bool("cloudflare-bypass", false, "wrap the transport with cloudflare-bp")
	fs.Bool("respect-robots", false, "skip subject pages disallowed by robots.txt")
	fs.String("log-level", d.LogLevel, "log level")
	RegisterHistoryFlags(fs)
}

func RegisterHistoryFlags(fs *pflag.FlagSet) {
	fs.String("history-driver", Default().History.Driver, "run history driver (sqlite or libsql)")
	fs.String("history-dsn", "", "run history database, empty disables history")
}

func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func()) {
		if err != nil {
			return
		}
		if f := fs.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	str := func(name string, dst *string) {
		set(name, func() { *dst, err = fs.GetString(name) })
	}
	num := func(name string, dst *int) {
		set(name, func() { *dst, err = fs.GetInt(name) })
	}
	flag := func(name string, dst *bool) {
		set(name, func() { *dst, err = fs.GetBool(name) })
	}

	str("search-url", &cfg.SearchURL)
	str("base-url", &cfg.BaseURL)
	str("output", &cfg.Output)
	num("max-pages", &cfg.MaxPages)
	num("concurrency", &cfg.Concurrency)
	num("delay-ms", &cfg.DelayMs)
	flag("all-periods", &cfg.AllPeriods)
	str("study-period", &cfg.StudyPeriod)
	num("year", &cfg.Year)
	num("retries", &cfg.Retries)
	num("retry-base-ms", &cfg.RetryBaseMs)
	num("timeout", &cfg.TimeoutSeconds)
	str("user-agent", &cfg.UserAgent)
	str("codes", &cfg.CodesFile)
	flag("cloudflare-bypass", &cfg.CloudflareBypass)
	flag("respect-robots", &cfg.RespectRobots)
	str("log-level", &cfg.LogLevel)
	str("history-driver", &cfg.History.Driver)
	str("history-dsn", &cfg.History.DSN)
	str("addr", &cfg.Server.Addr)
	str("refresh-secret", &cfg.Server.RefreshSecret)
	return err
}

// RegisterServerFlags declares the options only the HTTP service reads.
func RegisterServerFlags(fs *pflag.FlagSet) {
	fs.String("addr", Default().Server.Addr, "listen address")
	fs.String("refresh-secret", "", "shared secret required by POST /api/handbook/refresh")
}
