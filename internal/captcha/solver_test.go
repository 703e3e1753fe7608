package captcha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luvidal/jogiscraper/internal/config"
)

func testSolver(baseURL string) *Solver {
	return NewSolver(config.CaptchaConfig{
		APIKey:        "test-key",
		BaseURL:       baseURL,
		PollInterval:  config.DurationFrom(10 * time.Millisecond),
		SubmitsPerMin: 600,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSolveRecaptchaPollsUntilReady(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/in.php":
			if r.FormValue("key") != "test-key" || r.FormValue("method") != "userrecaptcha" {
				t.Errorf("unexpected submit form: %v", r.Form)
			}
			fmt.Fprint(w, `{"status":1,"request":"777"}`)
		case "/res.php":
			if r.URL.Query().Get("id") != "777" {
				t.Errorf("poll for wrong job: %s", r.URL.RawQuery)
			}
			if polls.Add(1) <= 3 {
				fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
				return
			}
			fmt.Fprint(w, `{"status":1,"request":"solved-token"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	token, err := testSolver(srv.URL).SolveRecaptcha(context.Background(), "sitekey", "https://portal.example")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if token != "solved-token" {
		t.Fatalf("token = %q", token)
	}
	if got := polls.Load(); got != 4 {
		t.Fatalf("polled %d times, want 4", got)
	}
}

func TestSolveSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":0,"request":"ERROR_WRONG_USER_KEY"}`)
	}))
	defer srv.Close()

	_, err := testSolver(srv.URL).SolveImage(context.Background(), "aGk=")
	var sfe *SolveFailedError
	if !errors.As(err, &sfe) || sfe.Reason != "ERROR_WRONG_USER_KEY" {
		t.Fatalf("expected solve failure, got %v", err)
	}
}

func TestSolvePermanentPollFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"ERROR_CAPTCHA_UNSOLVABLE"}`)
	}))
	defer srv.Close()

	_, err := testSolver(srv.URL).SolveImage(context.Background(), "aGk=")
	var sfe *SolveFailedError
	if !errors.As(err, &sfe) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
}

func TestSolveContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/in.php" {
			fmt.Fprint(w, `{"status":1,"request":"1"}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"request":"CAPCHA_NOT_READY"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := testSolver(srv.URL).SolveImage(ctx, "aGk="); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestFindRecaptchaSiteKey(t *testing.T) {
	html := `<html><body><div class="g-recaptcha" data-sitekey=" 6LeKey "></div></body></html>`
	key, ok := FindRecaptchaSiteKey(html)
	if !ok || key != "6LeKey" {
		t.Fatalf("key = %q ok = %v", key, ok)
	}
	if _, ok := FindRecaptchaSiteKey("<html><body>no widget</body></html>"); ok {
		t.Fatal("should not find a key")
	}
}
