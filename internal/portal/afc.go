package portal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/internal/captcha"
	"github.com/luvidal/jogiscraper/pkg/types"
)

const (
	afcHost      = "afc.cl"
	afcPortalURL = "https://webafiliados.afc.cl/"
)

// cotizacionesAdapter retrieves the unemployment-insurance contribution
// certificate. The portal gates its sign-on behind an interactive
// challenge, solved through the external service and injected back into
// the page before authenticating.
type cotizacionesAdapter struct {
	broker   *browser.Broker
	solver   *captcha.Solver
	throttle *Throttle
	logger   *slog.Logger
}

func (a *cotizacionesAdapter) ID() string { return "cotizaciones" }

func (a *cotizacionesAdapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	if err := a.throttle.Wait(ctx, afcHost); err != nil {
		return types.DocumentResult{}, err
	}
	sess, err := a.broker.Open(ctx, true)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, afcPortalURL, navRetries); err != nil {
		return types.DocumentResult{}, err
	}

	html, err := sess.CurrentHTML(ctx)
	if err != nil {
		return types.DocumentResult{}, err
	}
	if siteKey, ok := captcha.FindRecaptchaSiteKey(html); ok {
		pageURL, err := sess.CurrentURL(ctx)
		if err != nil {
			return types.DocumentResult{}, err
		}
		token, err := a.solver.SolveRecaptcha(ctx, siteKey, pageURL)
		if err != nil {
			return types.DocumentResult{}, fmt.Errorf("solve sign-on challenge: %w", err)
		}
		if err := sess.InjectRecaptchaToken(ctx, token); err != nil {
			return types.DocumentResult{}, err
		}
	}

	if err := loginClaveUnica(ctx, sess, "#btnCU", job.Credentials); err != nil {
		return types.DocumentResult{}, err
	}

	payload, err := sess.ClickAndInterceptDownload(ctx, "#btnDescargaCotPagadas", 0)
	if err != nil {
		return types.DocumentResult{}, err
	}
	a.logger.Debug("cotizaciones retrieved")
	return successResult(a.ID(), "certificado de cotizaciones", payload), nil
}
