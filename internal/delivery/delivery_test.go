package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/jordan-wright/email"

	"github.com/luvidal/jogiscraper/internal/config"
	"github.com/luvidal/jogiscraper/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedChannel struct {
	name    string
	calls   int
	outcome Outcome
}

func (c *recordedChannel) Name() string { return c.name }
func (c *recordedChannel) Deliver(context.Context, types.Request) Outcome {
	c.calls++
	return c.outcome
}

type panicChannel struct{}

func (panicChannel) Name() string                                   { return "upload" }
func (panicChannel) Deliver(context.Context, types.Request) Outcome { panic("nil client") }

func TestDispatchRunsEveryChannelIndependently(t *testing.T) {
	mail := &recordedChannel{name: "email", outcome: Outcome{Channel: "email", OK: true}}
	d := NewDispatcher(discardLogger(), mail, panicChannel{})

	// a panicking first channel must not stop the second
	d.Dispatch(context.Background(), types.Request{
		ID:       7,
		Channels: []string{"upload", "email"},
	})
	if mail.calls != 1 {
		t.Fatalf("email channel ran %d times, want 1", mail.calls)
	}
}

func TestDispatchUnconfiguredChannel(t *testing.T) {
	d := NewDispatcher(discardLogger())
	// must not panic or error
	d.Dispatch(context.Background(), types.Request{ID: 1, Channels: []string{"email"}})
}

func requestWithResults() types.Request {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake"))
	return types.Request{
		ID:      42,
		Subject: "12345678-5",
		Contact: "owner@example.com",
		Status:  types.StatusPartial,
		Channels: []string{
			types.ChannelEmail,
		},
		Results: []types.DocumentResult{
			{DocumentType: "carpeta", Success: true, Payload: pdf},
			{DocumentType: "declaracion", Error: "portal timed out"},
		},
		Credentials: types.Credentials{Subject: "12345678-5", Secret: "hunter2"},
	}
}

func TestEmailChannelSkipsWithoutCredentials(t *testing.T) {
	c := NewEmailChannel(config.SMTPConfig{Host: "smtp.example.com"}, discardLogger())
	out := c.Deliver(context.Background(), requestWithResults())
	if !out.Skipped {
		t.Fatalf("expected skip, got %+v", out)
	}
}

func TestEmailChannelMessage(t *testing.T) {
	var sent []*email.Email
	c := NewEmailChannel(config.SMTPConfig{
		Host: "smtp.example.com", Port: 587,
		Username: "u", Password: "p",
		From: "no-reply@jogi.cl", AdminTo: "ops@jogi.cl",
	}, discardLogger())
	c.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		sent = append(sent, e)
		return nil
	}

	req := requestWithResults()
	out := c.Deliver(context.Background(), req)
	if !out.OK {
		t.Fatalf("deliver: %+v", out)
	}
	// partial status also triggers the admin notice
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want owner + admin", len(sent))
	}

	owner := sent[0]
	if owner.To[0] != "owner@example.com" {
		t.Fatalf("owner message to %v", owner.To)
	}
	if len(owner.Attachments) != 1 || owner.Attachments[0].Filename != "carpeta.pdf" {
		t.Fatalf("attachments = %+v, want single carpeta.pdf", owner.Attachments)
	}
	if !strings.Contains(string(owner.HTML), "portal timed out") {
		t.Fatal("failure detail missing from body")
	}
	for _, msg := range sent {
		for _, blob := range [][]byte{msg.HTML, msg.Text} {
			if strings.Contains(string(blob), "hunter2") {
				t.Fatal("credential secret leaked into a message body")
			}
		}
	}
	admin := sent[1]
	if admin.To[0] != "ops@jogi.cl" || len(admin.Attachments) != 0 {
		t.Fatalf("admin notice must be payload-free: %+v", admin)
	}
}

func TestUploadChannel(t *testing.T) {
	var gotKey string
	var gotFiles int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Internal-Key")
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("request_id"); got != "42" {
			t.Errorf("request_id = %q", got)
		}
		gotFiles = len(r.MultipartForm.File["documents"])
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(uploadResponse{Success: true})
	}))
	defer srv.Close()

	c := NewUploadChannel(config.UploadConfig{Endpoint: srv.URL, APIKey: "k"}, discardLogger())
	req := requestWithResults()
	req.Channels = []string{types.ChannelUpload}

	out := c.Deliver(context.Background(), req)
	if !out.OK {
		t.Fatalf("deliver: %+v", out)
	}
	if gotKey != "k" {
		t.Fatalf("internal key = %q", gotKey)
	}
	if gotFiles != 1 {
		t.Fatalf("uploaded %d files, want only the successful document", gotFiles)
	}
}

func TestUploadChannelRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(uploadResponse{Success: false, Message: "duplicate"})
	}))
	defer srv.Close()

	c := NewUploadChannel(config.UploadConfig{Endpoint: srv.URL}, discardLogger())
	out := c.Deliver(context.Background(), requestWithResults())
	if out.OK || out.Detail != "duplicate" {
		t.Fatalf("expected rejection outcome, got %+v", out)
	}
}

func TestUploadChannelSkips(t *testing.T) {
	c := NewUploadChannel(config.UploadConfig{}, discardLogger())
	if out := c.Deliver(context.Background(), requestWithResults()); !out.Skipped {
		t.Fatalf("unconfigured endpoint should skip, got %+v", out)
	}

	c = NewUploadChannel(config.UploadConfig{Endpoint: "http://localhost:1"}, discardLogger())
	req := requestWithResults()
	req.Results = []types.DocumentResult{{DocumentType: "carpeta", Error: "failed"}}
	if out := c.Deliver(context.Background(), req); !out.Skipped {
		t.Fatalf("no successful documents should skip, got %+v", out)
	}
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText(`<h2>Solicitud #42</h2><p>Estado: partial</p><ul><li>carpeta: listo</li></ul><script>evil()</script>`)
	if strings.Contains(got, "evil") {
		t.Fatal("script content must be dropped")
	}
	for _, want := range []string{"Solicitud #42", "Estado: partial", "carpeta: listo"} {
		if !strings.Contains(got, want) {
			t.Fatalf("text %q missing %q", got, want)
		}
	}
}
