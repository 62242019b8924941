// Package portal drives one credential row through the portal's two-page
// login and reads the account's display name from the landing page.
//
// The sequence is fixed: navigate_login, enter_identifier,
// submit_identifier, enter_secret, submit_secret, extract_name. Each step is
// bounded by its own timeout and the first failure ends the attempt. Which
// element each step touches comes from config.LocatorConfig, so markup
// changes do not touch this package.
package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credresolve/internal/browser"
	"github.com/sells-group/credresolve/internal/config"
	"github.com/sells-group/credresolve/internal/model"
)

// markerProbe bounds the check for a still-authenticated page once the
// login form failed to appear.
const markerProbe = 2 * time.Second

// Resolver runs the login sequence. It holds no per-row state and may be
// shared across batches.
type Resolver struct {
	loginURL     string
	loc          config.LocatorConfig
	clearCookies bool
	stepTimeout  time.Duration
	navTimeout   time.Duration
}

// New builds a Resolver from the portal configuration.
func New(cfg config.PortalConfig) *Resolver {
	step := time.Duration(cfg.StepTimeoutSecs) * time.Second
	if step <= 0 {
		step = 15 * time.Second
	}
	nav := time.Duration(cfg.NavigationTimeoutSecs) * time.Second
	if nav <= 0 {
		nav = 2 * step
	}
	return &Resolver{
		loginURL:     cfg.LoginURL,
		loc:          cfg.Locators,
		clearCookies: cfg.ClearCookies,
		stepTimeout:  step,
		navTimeout:   nav,
	}
}

// stepError is a failed step: which element it was waiting on and why.
type stepError struct {
	selector string
	reason   string
	err      error
}

func (e *stepError) Error() string { return e.selector + ": " + e.reason }
func (e *stepError) Unwrap() error { return e.err }

func fail(selector string, err error) error {
	return &stepError{selector: selector, reason: describe(err), err: err}
}

// describe turns a driver error into the short reason shown to operators.
func describe(err error) string {
	var blocked *browser.BlockedError
	switch {
	case errors.As(err, &blocked):
		return "blocked by " + string(blocked.Kind) + " page"
	case errors.Is(err, browser.ErrElementNotFound):
		return "element not found"
	case browser.IsTimeout(err):
		return "timed out"
	case browser.IsSessionClosed(err):
		return "browser session closed"
	}
	return eris.Cause(err).Error()
}

// Resolve runs the sequence for row on sess. It never returns an error: a
// failing step becomes a failed Outcome, and a lost session or cancelled
// ctx is reported through Outcome.Fatal.
func (r *Resolver) Resolve(ctx context.Context, sess browser.Session, row model.CredentialRow) model.Outcome {
	log := zap.L().With(zap.String("client_ref", row.ClientRef), zap.String("identifier", row.Identifier))

	var name string
	steps := []struct {
		step    model.Step
		timeout time.Duration
		run     func(ctx context.Context) error
	}{
		{model.StepNavigateLogin, r.navTimeout + r.stepTimeout + markerProbe, func(ctx context.Context) error {
			return r.navigateLogin(ctx, sess)
		}},
		{model.StepEnterIdentifier, r.stepTimeout, func(ctx context.Context) error {
			return r.fill(ctx, sess, r.loc.IdentifierInput, row.Identifier)
		}},
		{model.StepSubmitIdentifier, r.navTimeout, func(ctx context.Context) error {
			return r.submit(ctx, sess, r.loc.NextButton)
		}},
		{model.StepEnterSecret, r.stepTimeout, func(ctx context.Context) error {
			return r.fill(ctx, sess, r.loc.SecretInput, row.Secret)
		}},
		{model.StepSubmitSecret, r.navTimeout, func(ctx context.Context) error {
			return r.submit(ctx, sess, r.loc.SignInButton)
		}},
		{model.StepExtractName, r.stepTimeout, func(ctx context.Context) error {
			var err error
			name, err = r.extractName(ctx, sess)
			return err
		}},
	}

	for _, s := range steps {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.run(stepCtx)
		cancel()
		if err == nil {
			log.Debug("portal: step complete",
				zap.String("step", string(s.step)),
				zap.Duration("duration", time.Since(start)),
			)
			continue
		}

		out := model.Outcome{Step: s.step, Cause: fmt.Sprintf("%s: %s", s.step, err.Error())}
		switch {
		case browser.IsSessionClosed(err):
			out.Fatal = err
		case ctx.Err() != nil:
			out.Fatal = eris.Wrap(ctx.Err(), "portal: resolve cancelled")
		}
		log.Info("portal: login failed",
			zap.String("step", string(s.step)),
			zap.String("cause", out.Cause),
			zap.Bool("fatal", out.Fatal != nil),
		)
		return out
	}

	return model.Outcome{Name: name}
}

// navigateLogin loads the login page and asserts it shows a logged-out
// form. The session is shared by every row of a batch, so a page still
// signed in as the previous account must fail here rather than leak that
// account's name into this row.
func (r *Resolver) navigateLogin(ctx context.Context, sess browser.Session) error {
	if r.clearCookies {
		if err := sess.ClearCookies(ctx); err != nil {
			return fail("cookies", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, r.navTimeout)
	err := sess.Navigate(navCtx, r.loginURL)
	cancel()
	if err != nil {
		return fail(r.loginURL, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	err = sess.WaitVisible(waitCtx, r.loc.IdentifierInput)
	cancel()
	if err == nil {
		return nil
	}
	if browser.IsSessionClosed(err) || r.loc.LoggedInMarker == "" {
		return fail(r.loc.IdentifierInput, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, markerProbe)
	defer cancel()
	if sess.WaitVisible(probeCtx, r.loc.LoggedInMarker) == nil {
		return &stepError{selector: r.loc.LoggedInMarker, reason: "still authenticated as a previous account", err: err}
	}
	return fail(r.loc.IdentifierInput, err)
}

func (r *Resolver) fill(ctx context.Context, sess browser.Session, selector, value string) error {
	if err := sess.WaitVisible(ctx, selector); err != nil {
		return fail(selector, err)
	}
	if err := sess.Focus(ctx, selector); err != nil {
		return fail(selector, err)
	}
	if err := sess.Type(ctx, selector, value); err != nil {
		return fail(selector, err)
	}
	return nil
}

func (r *Resolver) submit(ctx context.Context, sess browser.Session, selector string) error {
	if err := sess.WaitVisible(ctx, selector); err != nil {
		return fail(selector, err)
	}
	if err := sess.Click(ctx, selector); err != nil {
		return fail(selector, err)
	}
	return nil
}

func (r *Resolver) extractName(ctx context.Context, sess browser.Session) (string, error) {
	selector := r.loc.DisplayName
	if err := sess.WaitVisible(ctx, selector); err != nil {
		return "", fail(selector, err)
	}
	text, err := sess.Text(ctx, selector)
	if err != nil {
		return "", fail(selector, err)
	}
	name := strings.TrimSpace(text)
	if name == "" {
		return "", &stepError{selector: selector, reason: "empty display name"}
	}
	return name, nil
}
