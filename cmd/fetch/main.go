// Command fetch runs one portal adapter outside the service, writing the
// retrieved document to disk. Useful for developing and debugging flows
// without queuing requests through the API.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/internal/captcha"
	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/internal/portal"
	"github.com/luvidal/jogiscraper/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to service configuration")
	docType := flag.String("type", "", "Document type to fetch")
	rut := flag.String("rut", "", "Subject taxpayer number")
	clave := flag.String("clave", "", "Subject portal credential")
	documento := flag.String("documento", "", "Supporting identity document number")
	contact := flag.String("email", "", "Contact address for registry-mailed documents")
	out := flag.String("out", "", "Output file (defaults to <type>.bin)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall fetch timeout")
	flag.Parse()

	if *docType == "" || *rut == "" || *clave == "" {
		log.Fatal("-type, -rut, and -clave are required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	registry := portal.NewRegistry(portal.Deps{
		Broker: browser.NewBroker(cfg.Browser, logger),
		Solver: captcha.NewSolver(cfg.Captcha, logger),
		Civil:  cfg.Civil,
		Logger: logger,
	})
	adapter, ok := registry.Lookup(*docType)
	if !ok {
		log.Fatalf("no adapter registered for %q (have %v)", *docType, registry.IDs())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := adapter.Fetch(ctx, portal.Job{
		Credentials: types.Credentials{
			Subject:      *rut,
			Secret:       *clave,
			SupportingID: *documento,
		},
		Contact: *contact,
	})
	if err != nil {
		log.Fatalf("fetch %s: %v", *docType, err)
	}

	path := *out
	if path == "" {
		path = *docType + ".bin"
	}
	data, err := base64.StdEncoding.DecodeString(result.Payload)
	if err != nil {
		log.Fatalf("decode payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
	logger.Info("document written", "type", *docType, "file", path,
		"bytes", len(data), "message", result.Message)
}
