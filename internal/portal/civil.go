package portal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// civilAdapter serves civil-registry certificate types exposed through an
// HTTP document API instead of a browser portal. One instance per
// certificate path.
type civilAdapter struct {
	id     string
	path   string
	client *resty.Client
	logger *slog.Logger
}

func newCivilAdapter(id, path string, cfg config.CivilAPIConfig, logger *slog.Logger) *civilAdapter {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Timeout.Duration > 0 {
		client.SetTimeout(cfg.Timeout.Duration)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &civilAdapter{id: id, path: path, client: client, logger: logger}
}

func (a *civilAdapter) ID() string { return a.id }

type civilCertificateResponse struct {
	Success bool   `json:"success"`
	PDF     string `json:"pdf"`
	Message string `json:"message"`
}

func (a *civilAdapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	var out civilCertificateResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"rut":      job.Credentials.Subject,
			"password": job.Credentials.Secret,
		}).
		SetResult(&out).
		Post(a.path)
	if err != nil {
		return types.DocumentResult{}, fmt.Errorf("certificate api %s: %w", a.id, err)
	}
	if resp.IsError() {
		return types.DocumentResult{}, fmt.Errorf("certificate api %s: status %d", a.id, resp.StatusCode())
	}
	if !out.Success || out.PDF == "" {
		reason := out.Message
		if reason == "" {
			reason = "certificate not issued"
		}
		return types.DocumentResult{}, fmt.Errorf("certificate api %s: %s", a.id, reason)
	}
	a.logger.Debug("certificate retrieved", "type", a.id)
	return successResult(a.id, "certificado "+a.id, out.PDF), nil
}
