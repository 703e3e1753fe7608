package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// UploadChannel posts the retrieved documents to the internal document
// intake endpoint as a multipart form.
type UploadChannel struct {
	cfg    config.UploadConfig
	client *resty.Client
	logger *slog.Logger
}

// NewUploadChannel builds the channel from upload configuration.
func NewUploadChannel(cfg config.UploadConfig, logger *slog.Logger) *UploadChannel {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	if cfg.Timeout.Duration > 0 {
		client.SetTimeout(cfg.Timeout.Duration)
	}
	return &UploadChannel{cfg: cfg, client: client, logger: logger}
}

// Name implements Channel.
func (c *UploadChannel) Name() string { return types.ChannelUpload }

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Deliver implements Channel.
func (c *UploadChannel) Deliver(ctx context.Context, req types.Request) Outcome {
	if c.cfg.Endpoint == "" {
		return Outcome{Channel: c.Name(), Skipped: true, Detail: "upload endpoint not configured"}
	}

	r := c.client.R().
		SetContext(ctx).
		SetHeader("X-Internal-Key", c.cfg.APIKey).
		SetFormData(map[string]string{
			"request_id": strconv.FormatInt(req.ID, 10),
			"rut":        req.Subject,
			"status":     string(req.Status),
		})

	attached := 0
	for _, res := range req.Results {
		if !res.Success || res.Payload == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(res.Payload)
		if err != nil {
			c.logger.Warn("skipping undecodable upload", "id", req.ID, "type", res.DocumentType)
			continue
		}
		name, _ := attachmentMeta(res.DocumentType, data)
		r.SetFileReader("documents", name, bytes.NewReader(data))
		attached++
	}
	if attached == 0 {
		return Outcome{Channel: c.Name(), Skipped: true, Detail: "no successful documents to upload"}
	}

	var out uploadResponse
	resp, err := r.SetResult(&out).Post(c.cfg.Endpoint)
	if err != nil {
		return Outcome{Channel: c.Name(), Detail: err.Error()}
	}
	if resp.IsError() {
		return Outcome{Channel: c.Name(), Detail: fmt.Sprintf("intake returned status %d", resp.StatusCode())}
	}
	if !out.Success {
		detail := out.Message
		if detail == "" {
			detail = "intake rejected the upload"
		}
		return Outcome{Channel: c.Name(), Detail: detail}
	}
	return Outcome{Channel: c.Name(), OK: true}
}
