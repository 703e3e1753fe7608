package config

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the retrieval service.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	DB      SQLConfig      `yaml:"db"`
	Worker  WorkerConfig   `yaml:"worker"`
	Browser BrowserConfig  `yaml:"browser"`
	Captcha CaptchaConfig  `yaml:"captcha"`
	Civil   CivilAPIConfig `yaml:"civil"`
	SMTP    SMTPConfig     `yaml:"smtp"`
	Upload  UploadConfig   `yaml:"upload"`
	State   StateConfig    `yaml:"state"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	InternalKey  string   `yaml:"internal_key"`
	ShutdownWait Duration `yaml:"shutdown_wait"`
}

// SQLConfig describes the relational database used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// WorkerConfig controls the fulfillment pool. Each concurrent job owns an
// isolated browser process, so concurrency should track available memory.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// BrowserConfig controls browser session allocation and navigation timing.
type BrowserConfig struct {
	Headless        bool          `yaml:"headless"`
	TempDir         string        `yaml:"temp_dir"`
	Locale          string        `yaml:"locale"`
	Timezone        string        `yaml:"timezone"`
	NavTimeout      Duration      `yaml:"nav_timeout"`
	WaitTimeout     Duration      `yaml:"wait_timeout"`
	DownloadTimeout Duration      `yaml:"download_timeout"`
	Proxies         []ProxyConfig `yaml:"proxies"`
}

// ProxyConfig is one entry of the rotating outbound proxy pool.
type ProxyConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CaptchaConfig configures the external solving service.
type CaptchaConfig struct {
	APIKey        string   `yaml:"api_key"`
	BaseURL       string   `yaml:"base_url"`
	PollInterval  Duration `yaml:"poll_interval"`
	SubmitsPerMin int      `yaml:"submits_per_min"`
}

// CivilAPIConfig configures the civil-registry certificate API used for
// document types served over a plain HTTP contract instead of a portal.
type CivilAPIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

// SMTPConfig configures the email delivery channel. Missing credentials
// degrade the channel to a logged no-op.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	AdminTo  string `yaml:"admin_to"`
}

// UploadConfig configures the internal upload delivery channel.
type UploadConfig struct {
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Timeout  Duration `yaml:"timeout"`
}

// StateConfig configures the optional Redis live-progress store.
type StateConfig struct {
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	KeyPrefix     string   `yaml:"key_prefix"`
	TTL           Duration `yaml:"ttl"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":3001",
			ShutdownWait: DurationFrom(15 * time.Second),
		},
		DB: SQLConfig{
			Driver:      "sqlite",
			DSN:         "file:jogiscraper.db?_pragma=journal_mode(WAL)",
			AutoMigrate: true,
		},
		Worker: WorkerConfig{
			Concurrency: 3,
			QueueSize:   64,
		},
		Browser: BrowserConfig{
			Headless:        true,
			Locale:          "es-CL",
			Timezone:        "America/Santiago",
			NavTimeout:      DurationFrom(20 * time.Second),
			WaitTimeout:     DurationFrom(10 * time.Second),
			DownloadTimeout: DurationFrom(15 * time.Second),
		},
		Captcha: CaptchaConfig{
			BaseURL:       "http://2captcha.com",
			PollInterval:  DurationFrom(10 * time.Second),
			SubmitsPerMin: 10,
		},
		Civil: CivilAPIConfig{
			BaseURL: "https://api.khipu.com/v1/cl/services",
			Timeout: DurationFrom(30 * time.Second),
		},
		SMTP: SMTPConfig{
			Port: 587,
			From: "no-reply@jogi.cl",
		},
		Upload: UploadConfig{
			Timeout: DurationFrom(30 * time.Second),
		},
		State: StateConfig{
			KeyPrefix: "jogi:requests",
			TTL:       DurationFrom(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the service configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if c.DB.Driver == "" || c.DB.DSN == "" {
		return errors.New("db.driver and db.dsn must be set")
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Browser.NavTimeout.IsZero() || c.Browser.WaitTimeout.IsZero() {
		return errors.New("browser.nav_timeout and browser.wait_timeout must be > 0")
	}
	if c.Browser.DownloadTimeout.IsZero() {
		return errors.New("browser.download_timeout must be > 0")
	}
	for i, p := range c.Browser.Proxies {
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("browser.proxies[%d] has empty url", i)
		}
	}
	if c.Captcha.PollInterval.IsZero() {
		return errors.New("captcha.poll_interval must be > 0")
	}
	if c.Captcha.SubmitsPerMin <= 0 {
		return fmt.Errorf("captcha.submits_per_min must be > 0 (got %d)", c.Captcha.SubmitsPerMin)
	}
	if c.SMTP.From != "" {
		if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
			return fmt.Errorf("smtp.from %q is not a valid address: %w", c.SMTP.From, err)
		}
	}
	return nil
}

func (c *Config) normalise() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Browser.Locale = strings.TrimSpace(c.Browser.Locale)
	c.Browser.Timezone = strings.TrimSpace(c.Browser.Timezone)
	c.Browser.TempDir = strings.TrimSpace(c.Browser.TempDir)
	c.Captcha.BaseURL = strings.TrimRight(strings.TrimSpace(c.Captcha.BaseURL), "/")
	c.SMTP.Host = strings.TrimSpace(c.SMTP.Host)
	c.SMTP.From = strings.TrimSpace(c.SMTP.From)
	c.SMTP.AdminTo = strings.ToLower(strings.TrimSpace(c.SMTP.AdminTo))
	c.Upload.Endpoint = strings.TrimSpace(c.Upload.Endpoint)
	c.Civil.BaseURL = strings.TrimRight(strings.TrimSpace(c.Civil.BaseURL), "/")
	c.State.RedisAddr = strings.TrimSpace(c.State.RedisAddr)

	cleaned := make([]ProxyConfig, 0, len(c.Browser.Proxies))
	for _, p := range c.Browser.Proxies {
		p.URL = strings.TrimSpace(p.URL)
		if p.URL == "" {
			continue
		}
		cleaned = append(cleaned, p)
	}
	c.Browser.Proxies = cleaned
}
