package portal

import (
	"context"
	"log/slog"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/pkg/types"
)

const (
	rcHost           = "srcei.cl"
	rcSolicitudesURL = "https://solicitudeswebrc.srcei.cl/"
)

// noMatrimonioAdapter files the single-status certificate request with the
// civil registry. The registry does not hand the PDF back in-session; it
// mails it to the address captured in the form, so the adapter addresses
// the form to the requester's own contact and returns the submission
// receipt as proof.
type noMatrimonioAdapter struct {
	broker   *browser.Broker
	throttle *Throttle
	logger   *slog.Logger
}

func (a *noMatrimonioAdapter) ID() string { return "nomatrimonio" }

func (a *noMatrimonioAdapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	if err := a.throttle.Wait(ctx, rcHost); err != nil {
		return types.DocumentResult{}, err
	}
	sess, err := a.broker.Open(ctx, true)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, rcSolicitudesURL, navRetries); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.Click(ctx, "#idCheckAceptaTerminos"); err != nil {
		return types.DocumentResult{}, err
	}
	if err := loginClaveUnica(ctx, sess, "#idBtnEnviarMat", job.Credentials); err != nil {
		return types.DocumentResult{}, err
	}

	if err := sess.TypeInto(ctx, "#idEmail", job.Contact); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.TypeInto(ctx, "#idEmailConfirm", job.Contact); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.ClickAndAwaitNavigation(ctx, "#idBtnSolicitar"); err != nil {
		return types.DocumentResult{}, err
	}

	receipt, err := sess.CaptureScreenshot(ctx)
	if err != nil {
		return types.DocumentResult{}, err
	}
	a.logger.Debug("nomatrimonio requested", "contact", job.Contact)
	return successResult(a.ID(),
		"solicitud ingresada; el Registro Civil envía el certificado al correo indicado",
		receipt), nil
}
