package portal

import (
	"context"

	"github.com/luvidal/jogiscraper/internal/browser"
	"github.com/luvidal/jogiscraper/pkg/types"
)

// Selectors of the shared national single sign-on form. Every institution
// embeds the same widget, so one helper covers all portals.
const (
	ssoUserField   = "#uname"
	ssoSecretField = "#pword"
	ssoSubmit      = "#login-submit"
)

// loginClaveUnica clicks the portal's sign-on trigger, waits for the
// national identity provider to load, and submits the requester's
// credentials. The secret only ever flows into the form field, never into
// logs or errors.
func loginClaveUnica(ctx context.Context, sess *browser.Session, trigger string, creds types.Credentials) error {
	if err := sess.ClickAndAwaitNavigation(ctx, trigger); err != nil {
		return err
	}
	if err := sess.TypeInto(ctx, ssoUserField, creds.Subject); err != nil {
		return err
	}
	if err := sess.TypeInto(ctx, ssoSecretField, creds.Secret); err != nil {
		return err
	}
	return sess.ClickAndAwaitNavigation(ctx, ssoSubmit)
}
