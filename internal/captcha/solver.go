// Package captcha integrates the external challenge-solving service. The
// service is a black box speaking the 2captcha wire protocol: submit a
// challenge, receive a job id, poll until solved or permanently failed.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/luvidal/jogiscraper/internal/config"
)

const notReady = "CAPCHA_NOT_READY"

// SolveFailedError reports a challenge the service gave up on.
type SolveFailedError struct {
	Reason string
}

func (e *SolveFailedError) Error() string {
	return fmt.Sprintf("captcha solve failed: %s", e.Reason)
}

// Solver submits challenges and polls for tokens. Submission is
// rate-limited service-wide since every worker shares one account quota.
type Solver struct {
	client       *resty.Client
	apiKey       string
	pollInterval time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewSolver builds a solver from configuration.
func NewSolver(cfg config.CaptchaConfig, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.Default()
	}
	perMin := cfg.SubmitsPerMin
	if perMin <= 0 {
		perMin = 10
	}
	return &Solver{
		client:       resty.New().SetBaseURL(cfg.BaseURL),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval.Duration,
		limiter:      rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
		logger:       logger,
	}
}

type serviceResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// SolveRecaptcha submits an interactive checkbox challenge identified by
// the host page's site key and URL, then polls until a token is returned.
func (s *Solver) SolveRecaptcha(ctx context.Context, siteKey, pageURL string) (string, error) {
	return s.solve(ctx, map[string]string{
		"method":    "userrecaptcha",
		"googlekey": siteKey,
		"pageurl":   pageURL,
	})
}

// SolveImage submits an image-based text challenge as base64.
func (s *Solver) SolveImage(ctx context.Context, imageB64 string) (string, error) {
	return s.solve(ctx, map[string]string{
		"method": "base64",
		"body":   imageB64,
	})
}

func (s *Solver) solve(ctx context.Context, params map[string]string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	form := map[string]string{"key": s.apiKey, "json": "1"}
	for k, v := range params {
		form[k] = v
	}

	var submitted serviceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&submitted).
		Post("/in.php")
	if err != nil {
		return "", fmt.Errorf("submit challenge: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("submit challenge: status %d", resp.StatusCode())
	}
	if submitted.Status != 1 || strings.HasPrefix(submitted.Request, "ERROR") {
		return "", &SolveFailedError{Reason: submitted.Request}
	}
	jobID := submitted.Request
	s.logger.Debug("challenge submitted", "job_id", jobID)

	return s.poll(ctx, jobID)
}

// poll queries the service on a fixed interval. "not yet ready" responses
// keep the loop going; any other non-token answer is permanent.
func (s *Solver) poll(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		var polled serviceResponse
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    s.apiKey,
				"action": "get",
				"id":     jobID,
				"json":   "1",
			}).
			SetResult(&polled).
			Get("/res.php")
		if err != nil {
			return "", fmt.Errorf("poll job %s: %w", jobID, err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("poll job %s: status %d", jobID, resp.StatusCode())
		}
		if polled.Status == 1 {
			return polled.Request, nil
		}
		if polled.Request != notReady {
			return "", &SolveFailedError{Reason: polled.Request}
		}
	}
}

// FindRecaptchaSiteKey extracts the site key from a page's HTML.
func FindRecaptchaSiteKey(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	key, ok := doc.Find(".g-recaptcha").First().Attr("data-sitekey")
	if !ok || strings.TrimSpace(key) == "" {
		return "", false
	}
	return strings.TrimSpace(key), true
}
