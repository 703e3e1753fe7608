package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Navigate loads a URL and waits for the document to parse. On failure it
// retries up to retries additional times with a jittered backoff before
// returning a NavigationError wrapping the last cause.
func (s *Session) Navigate(ctx context.Context, url string, retries int) error {
	var last error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying navigation", "url", url, "attempt", attempt)
			if err := pause(ctx, navBackoffBase, navBackoffJitter); err != nil {
				return &NavigationError{URL: url, Cause: err}
			}
		}
		navCtx, cancel := context.WithTimeout(s.ctx, s.cfg.NavTimeout.Duration)
		err := chromedp.Run(navCtx,
			chromedp.Navigate(url),
			waitDocumentReady(),
		)
		cancel()
		if err == nil {
			return nil
		}
		last = err
	}
	return &NavigationError{URL: url, Cause: last}
}

// waitDocumentReady polls document.readyState until the DOM is parsed.
func waitDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(readyPollInterval)
		defer ticker.Stop()
		for {
			var state string
			if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
				return err
			}
			if state == "interactive" || state == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// TypeInto waits for the element, clears it, then injects the value one
// rune at a time with a randomised inter-keystroke delay.
func (s *Session) TypeInto(ctx context.Context, selector, value string) error {
	if err := s.waitVisible(selector); err != nil {
		return err
	}
	if err := chromedp.Run(s.ctx, chromedp.Clear(selector, chromedp.ByQuery)); err != nil {
		return &ElementNotFoundError{Selector: selector, Cause: err}
	}
	for _, r := range value {
		if err := chromedp.Run(s.ctx, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("type into %q: %w", selector, err)
		}
		if err := pause(ctx, keyDelayBase, keyDelayJitter); err != nil {
			return err
		}
	}
	return nil
}

// Click waits for the element, clicks it, and pauses briefly so client-side
// handlers can run.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.waitVisible(selector); err != nil {
		return err
	}
	if err := pause(ctx, clickSettleBase, clickSettleJitter); err != nil {
		return err
	}
	if err := chromedp.Run(s.ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return pause(ctx, clickSettleBase, clickSettleJitter)
}

// ClickAndAwaitNavigation clicks the element while awaiting the resulting
// full page navigation.
func (s *Session) ClickAndAwaitNavigation(ctx context.Context, selector string) error {
	if err := s.waitVisible(selector); err != nil {
		return err
	}
	if err := pause(ctx, clickSettleBase, clickSettleJitter); err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(s.ctx, s.cfg.NavTimeout.Duration)
	defer cancel()
	if _, err := chromedp.RunResponse(navCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q did not navigate: %w", selector, err)
	}
	return pause(ctx, clickSettleBase, clickSettleJitter)
}

// TryDismissModal clicks a modal close button if it shows up within a short
// window; pages without the modal proceed silently.
func (s *Session) TryDismissModal(ctx context.Context, selector string) {
	waitCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return
	}
	_ = chromedp.Run(s.ctx, chromedp.Click(selector, chromedp.ByQuery))
	_ = pause(ctx, clickSettleBase, clickSettleJitter)
}

// ClickAndCapturePopup searches every frame for the selector (portal
// buttons regularly live inside nested iframes), clicks it, and waits for
// the new top-level browsing context it opens. The returned session shares
// this session's browser process; closing it closes only the popup tab.
func (s *Session) ClickAndCapturePopup(ctx context.Context, selector string) (*Session, error) {
	popupCh := chromedp.WaitNewTarget(s.ctx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID != ""
	})

	if err := s.clickInAnyFrame(selector); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(s.ctx, s.cfg.WaitTimeout.Duration)
	defer cancel()
	select {
	case id := <-popupCh:
		popupCtx, popupCancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(id))
		popup := &Session{
			cfg:       s.cfg,
			ctx:       popupCtx,
			cancels:   []context.CancelFunc{popupCancel},
			tempRoot:  s.tempRoot,
			popup:     true,
			userAgent: s.userAgent,
			logger:    s.logger.With("popup", true),
		}
		// give the popup a moment to start its own navigation
		if err := pause(ctx, clickSettleBase, clickSettleJitter); err != nil {
			popup.Close()
			return nil, err
		}
		return popup, nil
	case <-waitCtx.Done():
		return nil, fmt.Errorf("click %q: no popup appeared: %w", selector, waitCtx.Err())
	}
}

// clickInAnyFrame walks the frame tree and clicks the selector in the
// first frame that exposes it.
func (s *Session) clickInAnyFrame(selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, selector)

	clicked := false
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		for _, frameID := range flattenFrameIDs(tree) {
			world, err := page.CreateIsolatedWorld(frameID).Do(ctx)
			if err != nil {
				continue
			}
			obj, _, err := runtime.Evaluate(expr).WithContextID(world).Do(ctx)
			if err != nil || obj == nil {
				continue
			}
			var hit bool
			if json.Unmarshal(obj.Value, &hit) == nil && hit {
				clicked = true
				return nil
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("frame search for %q: %w", selector, err)
	}
	if !clicked {
		return &FrameNotFoundError{Selector: selector}
	}
	return nil
}

func flattenFrameIDs(tree *page.FrameTree) []cdp.FrameID {
	if tree == nil || tree.Frame == nil {
		return nil
	}
	ids := []cdp.FrameID{tree.Frame.ID}
	for _, child := range tree.ChildFrames {
		ids = append(ids, flattenFrameIDs(child)...)
	}
	return ids
}

// CaptureScreenshot renders the full page to PNG and returns it
// base64-encoded. Used for portals whose "document" is only renderable.
func (s *Session) CaptureScreenshot(ctx context.Context) (string, error) {
	shotCtx, cancel := context.WithTimeout(s.ctx, s.cfg.WaitTimeout.Duration)
	defer cancel()
	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// CurrentHTML exports the current document's outer HTML.
func (s *Session) CurrentHTML(ctx context.Context) (string, error) {
	htmlCtx, cancel := context.WithTimeout(s.ctx, s.cfg.WaitTimeout.Duration)
	defer cancel()
	var html string
	if err := chromedp.Run(htmlCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// CurrentURL reports the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(s.ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// SelectOption picks a <select> option by value.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	if err := s.waitVisible(selector); err != nil {
		return err
	}
	return chromedp.Run(s.ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

// InjectRecaptchaToken writes a solved token into the hidden response field
// and fires the input/change events the host page's validation listens for.
func (s *Session) InjectRecaptchaToken(ctx context.Context, token string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector('#g-recaptcha-response');
		if (!(el instanceof HTMLTextAreaElement)) return false;
		el.style.display = 'block';
		el.value = %q;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, token)

	var ok bool
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("inject recaptcha token: %w", err)
	}
	if !ok {
		return &ElementNotFoundError{Selector: "#g-recaptcha-response"}
	}
	return pause(ctx, clickSettleBase, clickSettleJitter)
}

func (s *Session) waitVisible(selector string) error {
	waitCtx, cancel := context.WithTimeout(s.ctx, s.cfg.WaitTimeout.Duration)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return &ElementNotFoundError{Selector: selector, Cause: err}
	}
	return nil
}
