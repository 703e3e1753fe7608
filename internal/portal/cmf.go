package portal

import (
	"context"
	"log/slog"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/pkg/types"
)

const (
	cmfHost     = "cmfchile.cl"
	cmfDeudaURL = "https://conocetudeuda.cmfchile.cl/informe-deuda/"
)

// deudaAdapter retrieves the consolidated debt report from the financial
// regulator. The report is a direct PDF download behind single sign-on.
type deudaAdapter struct {
	broker   *browser.Broker
	throttle *Throttle
	logger   *slog.Logger
}

func (a *deudaAdapter) ID() string { return "deuda" }

func (a *deudaAdapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	if err := a.throttle.Wait(ctx, cmfHost); err != nil {
		return types.DocumentResult{}, err
	}
	sess, err := a.broker.Open(ctx, true)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, cmfDeudaURL, navRetries); err != nil {
		return types.DocumentResult{}, err
	}
	if err := loginClaveUnica(ctx, sess, "#linkCU", job.Credentials); err != nil {
		return types.DocumentResult{}, err
	}

	payload, err := sess.ClickAndInterceptDownload(ctx, "a.btn-descargar", 0)
	if err != nil {
		return types.DocumentResult{}, err
	}
	a.logger.Debug("deuda retrieved")
	return successResult(a.ID(), "informe de deuda", payload), nil
}
