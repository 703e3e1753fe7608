package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadFromReaderMergesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
server:
  addr: ":9000"
worker:
  concurrency: 5
browser:
  nav_timeout: 30s
  download_timeout: 45
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Worker.Concurrency != 5 {
		t.Errorf("concurrency = %d", cfg.Worker.Concurrency)
	}
	// untouched sections keep their defaults
	if cfg.Worker.QueueSize != 64 {
		t.Errorf("queue_size = %d, want default", cfg.Worker.QueueSize)
	}
	if cfg.Browser.NavTimeout.Duration != 30*time.Second {
		t.Errorf("nav_timeout = %v", cfg.Browser.NavTimeout.Duration)
	}
	// bare numbers are read as seconds
	if cfg.Browser.DownloadTimeout.Duration != 45*time.Second {
		t.Errorf("download_timeout = %v", cfg.Browser.DownloadTimeout.Duration)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("serverz:\n  addr: \":9000\"\n")); err == nil {
		t.Fatal("unknown top-level key should fail strict decoding")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }},
		{"unknown driver", func(c *Config) { c.DB.Driver = "oracle" }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"zero queue", func(c *Config) { c.Worker.QueueSize = 0 }},
		{"zero nav timeout", func(c *Config) { c.Browser.NavTimeout = Duration{} }},
		{"zero poll interval", func(c *Config) { c.Captcha.PollInterval = Duration{} }},
		{"bad from address", func(c *Config) { c.SMTP.From = "not an address" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation failure")
			}
		})
	}
}

func TestNormaliseDropsEmptyProxies(t *testing.T) {
	cfg := Default()
	cfg.Browser.Proxies = []ProxyConfig{
		{URL: "  http://proxy:3128  "},
		{URL: "   "},
	}
	cfg.normalise()
	if len(cfg.Browser.Proxies) != 1 || cfg.Browser.Proxies[0].URL != "http://proxy:3128" {
		t.Fatalf("proxies = %+v", cfg.Browser.Proxies)
	}
}
