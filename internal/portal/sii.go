package portal

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// Tax authority entry points. Authentication always goes through the
// single sign-on gateway; the per-document applications live on separate
// hosts that share the session cookie.
const (
	siiHost       = "sii.cl"
	siiLoginURL   = "https://zeusr.sii.cl/AUT2000/InicioAutenticacion/IngresoRutClave.html"
	siiCarpetaURL = "https://zeus.sii.cl/dii_cgi/carpeta_tributaria/cte_acreditar_renta_01.cgi"
	siiF22URL     = "https://www4.sii.cl/consultaestadof22ui/"
)

// loginSII opens a session and authenticates against the tax authority.
func loginSII(ctx context.Context, broker *browser.Broker, creds types.Credentials) (*browser.Session, error) {
	sess, err := broker.Open(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := sess.Navigate(ctx, siiLoginURL, navRetries); err != nil {
		sess.Close()
		return nil, err
	}
	if err := loginClaveUnica(ctx, sess, "#myHref", creds); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// taxYear is the filing year the income statement applications default to:
// returns filed this calendar year cover the previous one.
func taxYear() string {
	return strconv.Itoa(time.Now().Year())
}

// carpetaAdapter retrieves the income-accreditation tax folder. The portal
// demands a named recipient before it releases the PDF, so the form is
// filled with a synthetic requester. The final document opens in a popup
// window whose only content is the PDF itself.
type carpetaAdapter struct {
	broker   *browser.Broker
	throttle *Throttle
	logger   *slog.Logger
}

func (a *carpetaAdapter) ID() string { return "carpeta" }

func (a *carpetaAdapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	if err := a.throttle.Wait(ctx, siiHost); err != nil {
		return types.DocumentResult{}, err
	}
	sess, err := loginSII(ctx, a.broker, job.Credentials)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, siiCarpetaURL, navRetries); err != nil {
		return types.DocumentResult{}, err
	}

	requester := randomPerson()
	if err := sess.TypeInto(ctx, "#d_nombre", requester.Name); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.TypeInto(ctx, "#d_email", requester.Email); err != nil {
		return types.DocumentResult{}, err
	}
	// "999" is the catch-all "other institution" option.
	if err := sess.SelectOption(ctx, "#frm_instituciones", "999"); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.TypeInto(ctx, "#txtInstitucion", randomInstitution()); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.Click(ctx, "#chkautorizo"); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.ClickAndAwaitNavigation(ctx, `input[value="Enviar"]`); err != nil {
		return types.DocumentResult{}, err
	}

	popup, err := sess.ClickAndCapturePopup(ctx, `input[name="guardarPdf"]`)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer popup.Close()

	pdfURL, err := popup.CurrentURL(ctx)
	if err != nil {
		return types.DocumentResult{}, err
	}
	data, err := popup.FetchAsBrowser(ctx, pdfURL)
	if err != nil {
		return types.DocumentResult{}, fmt.Errorf("fetch carpeta pdf: %w", err)
	}
	a.logger.Debug("carpeta retrieved", "bytes", len(data))
	return successResult(a.ID(), "carpeta tributaria", base64.StdEncoding.EncodeToString(data)), nil
}

// declaracionAdapter captures the income statement status page. The portal
// renders the status in-page and offers no export, so the deliverable is a
// full-page screenshot.
type declaracionAdapter struct {
	broker   *browser.Broker
	throttle *Throttle
	logger   *slog.Logger
}

func (a *declaracionAdapter) ID() string { return "declaracion" }

func (a *declaracionAdapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	if err := a.throttle.Wait(ctx, siiHost); err != nil {
		return types.DocumentResult{}, err
	}
	sess, err := loginSII(ctx, a.broker, job.Credentials)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer sess.Close()

	if err := openF22Query(ctx, sess); err != nil {
		return types.DocumentResult{}, err
	}

	shot, err := sess.CaptureScreenshot(ctx)
	if err != nil {
		return types.DocumentResult{}, err
	}
	return successResult(a.ID(), "estado declaración año tributario "+taxYear(), shot), nil
}

// formulario22Adapter exports the compact form 22 as PDF. The export
// button triggers a browser download, intercepted at the protocol level.
type formulario22Adapter struct {
	broker   *browser.Broker
	throttle *Throttle
	logger   *slog.Logger
}

func (a *formulario22Adapter) ID() string { return "formulario22" }

func (a *formulario22Adapter) Fetch(ctx context.Context, job Job) (types.DocumentResult, error) {
	if err := a.throttle.Wait(ctx, siiHost); err != nil {
		return types.DocumentResult{}, err
	}
	sess, err := loginSII(ctx, a.broker, job.Credentials)
	if err != nil {
		return types.DocumentResult{}, err
	}
	defer sess.Close()

	if err := openF22Query(ctx, sess); err != nil {
		return types.DocumentResult{}, err
	}
	if err := sess.Click(ctx, `button[ng-click="vm.f22Compacto()"]`); err != nil {
		return types.DocumentResult{}, err
	}
	payload, err := sess.ClickAndInterceptDownload(ctx, `button[ng-click="vm.crearPdf()"]`, 0)
	if err != nil {
		return types.DocumentResult{}, err
	}
	a.logger.Debug("formulario22 retrieved")
	return successResult(a.ID(), "formulario 22 compacto "+taxYear(), payload), nil
}

// openF22Query navigates to the statement-status application, selects the
// current tax year, and runs the query.
func openF22Query(ctx context.Context, sess *browser.Session) error {
	if err := sess.Navigate(ctx, siiF22URL, navRetries); err != nil {
		return err
	}
	if err := sess.SelectOption(ctx, `select[ng-model="vm.periodo"]`, taxYear()); err != nil {
		return err
	}
	return sess.ClickAndAwaitNavigation(ctx, `button[ng-click="vm.Consultar()"]`)
}
