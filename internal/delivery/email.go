package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// EmailChannel mails the retrieved documents to the request owner's
// contact address. Only the owner ever receives payloads; the optional
// admin notice on failed requests carries no documents and no
// credentials.
type EmailChannel struct {
	cfg    config.SMTPConfig
	send   func(e *email.Email, addr string, auth smtp.Auth) error
	logger *slog.Logger
}

// NewEmailChannel builds the channel from SMTP configuration.
func NewEmailChannel(cfg config.SMTPConfig, logger *slog.Logger) *EmailChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailChannel{
		cfg:    cfg,
		send:   func(e *email.Email, addr string, auth smtp.Auth) error { return e.Send(addr, auth) },
		logger: logger,
	}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return types.ChannelEmail }

// Deliver implements Channel. Missing SMTP credentials degrade the
// channel to a logged skip instead of an error.
func (c *EmailChannel) Deliver(ctx context.Context, req types.Request) Outcome {
	if c.cfg.Host == "" || c.cfg.Username == "" || c.cfg.Password == "" {
		return Outcome{Channel: c.Name(), Skipped: true, Detail: "smtp credentials not configured"}
	}

	msg := c.buildMessage(req)
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	if err := c.send(msg, addr, auth); err != nil {
		return Outcome{Channel: c.Name(), Detail: err.Error()}
	}

	if c.cfg.AdminTo != "" && req.Status != types.StatusCompleted {
		c.notifyAdmin(addr, auth, req)
	}
	return Outcome{Channel: c.Name(), OK: true}
}

func (c *EmailChannel) buildMessage(req types.Request) *email.Email {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Solicitud #%d</h2>", req.ID)
	fmt.Fprintf(&b, "<p>Estado: %s</p><ul>", req.Status)
	for _, res := range req.Results {
		if res.Success {
			fmt.Fprintf(&b, "<li>%s: listo</li>", res.DocumentType)
			continue
		}
		fmt.Fprintf(&b, "<li>%s: no disponible (%s)</li>", res.DocumentType, res.Error)
	}
	b.WriteString("</ul>")
	body := b.String()

	msg := email.NewEmail()
	msg.From = c.cfg.From
	msg.To = []string{req.Contact}
	msg.Subject = fmt.Sprintf("Documentos solicitud #%d (%s)", req.ID, req.Status)
	msg.HTML = []byte(body)
	msg.Text = []byte(htmlToText(body))

	for _, res := range req.Results {
		if !res.Success || res.Payload == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(res.Payload)
		if err != nil {
			c.logger.Warn("skipping undecodable attachment", "id", req.ID, "type", res.DocumentType)
			continue
		}
		name, mime := attachmentMeta(res.DocumentType, data)
		if _, err := msg.Attach(bytes.NewReader(data), name, mime); err != nil {
			c.logger.Warn("could not attach document", "id", req.ID, "type", res.DocumentType, "error", err)
		}
	}
	return msg
}

// notifyAdmin sends a short, payload-free notice about a degraded request.
func (c *EmailChannel) notifyAdmin(addr string, auth smtp.Auth, req types.Request) {
	msg := email.NewEmail()
	msg.From = c.cfg.From
	msg.To = []string{c.cfg.AdminTo}
	msg.Subject = fmt.Sprintf("Solicitud #%d terminó %s", req.ID, req.Status)
	msg.Text = []byte(fmt.Sprintf("Solicitud #%d para %s terminó en estado %s.",
		req.ID, req.Subject, req.Status))
	if err := c.send(msg, addr, auth); err != nil {
		c.logger.Warn("admin notice failed", "id", req.ID, "error", err)
	}
}

// attachmentMeta names an attachment after its document type with an
// extension sniffed from the payload bytes.
func attachmentMeta(docType string, data []byte) (string, string) {
	mime := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(mime, "image/png"):
		return docType + ".png", "image/png"
	case bytes.HasPrefix(data, []byte("%PDF")):
		return docType + ".pdf", "application/pdf"
	default:
		return docType + ".bin", "application/octet-stream"
	}
}
