package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	fakeua "github.com/EDDYCJY/fake-useragent"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/luvidal/jogiscraper/internal/config"
)

// Injected before any portal script runs so the session reports no
// automation signals.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => false });
Object.defineProperty(navigator, 'languages', { get: () => ['es-CL', 'es'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
`

// Broker allocates and tears down isolated browser sessions. Each session
// owns a private Chrome process, profile directory, and fingerprint.
type Broker struct {
	cfg      config.BrowserConfig
	tempRoot string
	logger   *slog.Logger
}

// NewBroker constructs a broker rooted at the configured temp directory.
func NewBroker(cfg config.BrowserConfig, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.TempDir
	if root == "" {
		root = os.TempDir()
	}
	return &Broker{cfg: cfg, tempRoot: root, logger: logger}
}

// Session is one isolated browser automation context. It is owned by
// exactly one adapter invocation and must be closed on every exit path.
type Session struct {
	cfg      config.BrowserConfig
	ctx      context.Context
	cancels  []context.CancelFunc
	profile  string
	tempRoot string

	// set on sessions created by ClickAndCapturePopup; popups share the
	// parent's browser process and only close their own tab.
	popup bool

	userAgent string
	logger    *slog.Logger
	closeOnce sync.Once
}

// Open launches a fresh browser process with an isolated profile, a
// randomised bounded viewport, and a desktop user-agent fingerprint.
// When useProxy is set, outbound traffic is attached to a randomly chosen
// entry of the configured proxy pool, answering CDP auth challenges with
// the pool credentials.
func (b *Broker) Open(ctx context.Context, useProxy bool) (*Session, error) {
	profile, err := os.MkdirTemp(b.tempRoot, "jogi-profile-")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	width := 1024 + rand.Intn(200)
	height := 700 + rand.Intn(200)
	ua := fakeua.Chrome()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("lang", b.cfg.Locale),
		chromedp.UserDataDir(profile),
		chromedp.WindowSize(width, height),
		chromedp.UserAgent(ua),
	)

	var proxy *config.ProxyConfig
	if useProxy && len(b.cfg.Proxies) > 0 {
		p := b.cfg.Proxies[rand.Intn(len(b.cfg.Proxies))]
		proxy = &p
		opts = append(opts, chromedp.ProxyServer(p.URL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	sess := &Session{
		cfg:       b.cfg,
		ctx:       tabCtx,
		cancels:   []context.CancelFunc{tabCancel, allocCancel},
		profile:   profile,
		tempRoot:  b.tempRoot,
		userAgent: ua,
		logger:    b.logger.With("profile", filepath.Base(profile)),
	}

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(cctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(cctx)
			return err
		}),
	}
	if b.cfg.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(b.cfg.Timezone))
	}
	if proxy != nil && proxy.Username != "" {
		actions = append([]chromedp.Action{fetch.Enable().WithHandleAuthRequests(true)}, actions...)
		b.answerProxyAuth(tabCtx, proxy)
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		sess.Close()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	sess.logger.Debug("session opened",
		"viewport", fmt.Sprintf("%dx%d", width, height),
		"proxy", useProxy && proxy != nil,
	)
	return sess, nil
}

// answerProxyAuth responds to CDP auth challenges with the proxy pool
// credentials and resumes every paused request.
func (b *Broker) answerProxyAuth(ctx context.Context, proxy *config.ProxyConfig) {
	chromedp.ListenTarget(ctx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(ctx, fetch.ContinueRequest(e.RequestID))
			}()
		}
	})
}

// Context exposes the chromedp context bound to this session's tab.
func (s *Session) Context() context.Context { return s.ctx }

// UserAgent returns the fingerprint UA assigned at open time.
func (s *Session) UserAgent() string { return s.userAgent }

// Close tears the session down. It is idempotent and never returns an
// error: teardown failures are logged so they cannot mask the error that
// ended the adapter. The profile directory is only removed when it lives
// under the broker temp root.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		for _, cancel := range s.cancels {
			cancel()
		}
		if s.popup || s.profile == "" {
			return
		}
		if !insideRoot(s.tempRoot, s.profile) {
			s.logger.Warn("refusing to delete profile outside temp root", "dir", s.profile)
			return
		}
		if err := os.RemoveAll(s.profile); err != nil {
			s.logger.Warn("profile cleanup failed", "error", err)
		}
	})
}

// insideRoot reports whether dir is strictly contained in root.
func insideRoot(root, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(dir))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
