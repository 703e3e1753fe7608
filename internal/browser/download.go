package browser

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const maxDocumentBytes = 20 * 1024 * 1024

// ClickAndInterceptDownload arms a protocol-level download interceptor that
// redirects the triggered file into a private scratch directory, clicks the
// trigger, and polls the directory against a pre-click snapshot until a new
// file appears. The file is returned base64-encoded and the scratch
// directory is removed on every path.
func (s *Session) ClickAndInterceptDownload(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = s.cfg.DownloadTimeout.Duration
	}

	scratch, err := os.MkdirTemp(s.tempRoot, "jogi-download-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	err = chromedp.Run(s.ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(scratch).
			WithEventsEnabled(true),
	)
	if err != nil {
		return "", fmt.Errorf("arm download interceptor: %w", err)
	}

	before, err := snapshotDir(scratch)
	if err != nil {
		return "", err
	}

	if err := s.Click(ctx, selector); err != nil {
		return "", err
	}

	name, err := s.awaitNewFile(ctx, scratch, before, timeout)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(scratch, name))
	if err != nil {
		return "", fmt.Errorf("read downloaded file: %w", err)
	}
	s.logger.Debug("download captured", "file", name, "bytes", len(data))
	return base64.StdEncoding.EncodeToString(data), nil
}

// awaitNewFile polls the scratch directory until a file absent from the
// pre-click snapshot finishes downloading or the deadline passes.
func (s *Session) awaitNewFile(ctx context.Context, dir string, before map[string]struct{}, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(downloadPollInterval)
	defer ticker.Stop()
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("scan scratch dir: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if _, seen := before[name]; seen {
				continue
			}
			// Chrome writes in-progress downloads with a .crdownload suffix.
			if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
				continue
			}
			return name, nil
		}
		if time.Now().After(deadline) {
			return "", &DownloadTimeoutError{Timeout: timeout}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func snapshotDir(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot scratch dir: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		seen[entry.Name()] = struct{}{}
	}
	return seen, nil
}

// FetchAsBrowser downloads a URL outside the rendering pipeline while
// impersonating the session: its cookies, user-agent, and Accept headers.
// Popup windows frequently serve the PDF as their only document, which is
// cheaper to pull over plain HTTP than to scrape out of the viewer.
func (s *Session) FetchAsBrowser(ctx context.Context, url string) ([]byte, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("collect cookies: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	if len(pairs) > 0 {
		req.Header.Set("Cookie", strings.Join(pairs, "; "))
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	client := &http.Client{Timeout: s.cfg.DownloadTimeout.Duration}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return readBody(resp)
}

// readBody drains a response, transparently decoding the negotiated
// content encoding and enforcing the document size cap.
func readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("document exceeds limit of %d bytes", maxDocumentBytes)
	}
	return body, nil
}
