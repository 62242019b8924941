package portal

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credresolve/internal/browser"
	"github.com/sells-group/credresolve/internal/config"
	"github.com/sells-group/credresolve/internal/model"
	"github.com/sells-group/credresolve/internal/portal/portaltest"
)

var testAccounts = map[string]portaltest.Account{
	"20111222333": {Secret: "secretA", Name: "PEREZ JUAN"},
	"27333444555": {Secret: "secretB", Name: "GOMEZ ANA"},
}

func portalConfig(loginURL string, clearCookies bool) config.PortalConfig {
	return config.PortalConfig{
		LoginURL:              loginURL,
		StepTimeoutSecs:       2,
		NavigationTimeoutSecs: 5,
		ClearCookies:          clearCookies,
		Locators:              portaltest.Locators(),
	}
}

func formSession(t *testing.T) browser.Session {
	t.Helper()
	sess, err := browser.NewFormLauncher(browser.FormOptions{}).Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close(context.Background()) })
	return sess
}

func TestResolve_AgainstPortal(t *testing.T) {
	srv := portaltest.New(testAccounts)
	defer srv.Close()
	r := New(portalConfig(srv.LoginURL(), true))

	tests := []struct {
		name     string
		row      model.CredentialRow
		wantName string
		wantStep model.Step
		cause    string
	}{
		{
			name:     "resolved",
			row:      model.CredentialRow{Identifier: "20111222333", Secret: "secretA", ClientRef: "C001"},
			wantName: "PEREZ JUAN",
		},
		{
			name:     "unknown identifier",
			row:      model.CredentialRow{Identifier: "99999999999", Secret: "x", ClientRef: "C002"},
			wantStep: model.StepEnterSecret,
			cause:    `enter_secret: input[id="F1:password"]: element not found`,
		},
		{
			name:     "wrong secret",
			row:      model.CredentialRow{Identifier: "27333444555", Secret: "nope", ClientRef: "C003"},
			wantStep: model.StepExtractName,
			cause:    "extract_name: header strong.text-primary: element not found",
		},
	}

	sess := formSession(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Resolve(context.Background(), sess, tt.row)
			assert.NoError(t, out.Fatal)
			assert.Equal(t, tt.wantName, out.Name)
			assert.Equal(t, tt.wantStep, out.Step)
			assert.Equal(t, tt.cause, out.Cause)
			assert.Equal(t, tt.wantName != "", out.Resolved())
		})
	}
}

func TestResolve_SharedSessionClearsCookies(t *testing.T) {
	srv := portaltest.New(testAccounts)
	defer srv.Close()
	r := New(portalConfig(srv.LoginURL(), true))
	sess := formSession(t)

	first := r.Resolve(context.Background(), sess, model.CredentialRow{Identifier: "20111222333", Secret: "secretA", ClientRef: "C001"})
	second := r.Resolve(context.Background(), sess, model.CredentialRow{Identifier: "27333444555", Secret: "secretB", ClientRef: "C002"})

	assert.Equal(t, "PEREZ JUAN", first.Name)
	assert.Equal(t, "GOMEZ ANA", second.Name)
	assert.Equal(t, 1, srv.Logins("27333444555"))
}

func TestResolve_StillAuthenticatedFailsFast(t *testing.T) {
	srv := portaltest.New(testAccounts)
	defer srv.Close()
	r := New(portalConfig(srv.LoginURL(), false))
	sess := formSession(t)

	first := r.Resolve(context.Background(), sess, model.CredentialRow{Identifier: "20111222333", Secret: "secretA", ClientRef: "C001"})
	require.True(t, first.Resolved())

	second := r.Resolve(context.Background(), sess, model.CredentialRow{Identifier: "27333444555", Secret: "secretB", ClientRef: "C002"})
	assert.False(t, second.Resolved())
	assert.NoError(t, second.Fatal)
	assert.Equal(t, model.StepNavigateLogin, second.Step)
	assert.Equal(t, "navigate_login: #logout: still authenticated as a previous account", second.Cause)
	assert.Empty(t, second.Name, "previous account's name must not leak into this row")
	assert.Zero(t, srv.Logins("27333444555"))
}

func TestResolve_MissingNameOnLanding(t *testing.T) {
	srv := portaltest.New(testAccounts)
	defer srv.Close()
	srv.SetHideName(true)
	r := New(portalConfig(srv.LoginURL(), true))

	out := r.Resolve(context.Background(), formSession(t), model.CredentialRow{Identifier: "20111222333", Secret: "secretA", ClientRef: "C001"})
	assert.Equal(t, model.StepExtractName, out.Step)
	assert.Contains(t, out.Cause, "element not found")
	assert.Equal(t, 1, srv.Logins("20111222333"))
}

// expectLogin sets up every call of a successful sequence up to and
// including the display-name read.
func expectLogin(sess *mockSession, loc config.LocatorConfig, name string) {
	anyArg := mock.Anything
	sess.On("ClearCookies", anyArg).Return(nil)
	sess.On("Navigate", anyArg, "https://portal.test/login").Return(nil)
	for _, sel := range []string{loc.IdentifierInput, loc.NextButton, loc.SecretInput, loc.SignInButton, loc.DisplayName} {
		sess.On("WaitVisible", anyArg, sel).Return(nil)
	}
	sess.On("Focus", anyArg, loc.IdentifierInput).Return(nil)
	sess.On("Type", anyArg, loc.IdentifierInput, "20111222333").Return(nil)
	sess.On("Click", anyArg, loc.NextButton).Return(nil)
	sess.On("Focus", anyArg, loc.SecretInput).Return(nil)
	sess.On("Type", anyArg, loc.SecretInput, "secretA").Return(nil)
	sess.On("Click", anyArg, loc.SignInButton).Return(nil)
	sess.On("Text", anyArg, loc.DisplayName).Return(name, nil)
}

var mockRow = model.CredentialRow{Identifier: "20111222333", Secret: "secretA", ClientRef: "C001"}

func TestResolve_TrimsName(t *testing.T) {
	loc := portaltest.Locators()
	sess := &mockSession{}
	expectLogin(sess, loc, "\n  PEREZ JUAN \t")

	out := New(portalConfig("https://portal.test/login", true)).Resolve(context.Background(), sess, mockRow)
	assert.Equal(t, model.Outcome{Name: "PEREZ JUAN"}, out)
	sess.AssertExpectations(t)
	sess.AssertNotCalled(t, "Close", mock.Anything)
}

func TestResolve_EmptyNameFails(t *testing.T) {
	loc := portaltest.Locators()
	sess := &mockSession{}
	expectLogin(sess, loc, "   ")

	out := New(portalConfig("https://portal.test/login", true)).Resolve(context.Background(), sess, mockRow)
	assert.False(t, out.Resolved())
	assert.Equal(t, "extract_name: header strong.text-primary: empty display name", out.Cause)
	assert.True(t, out.Result("C001").IsError())
}

func TestResolve_TimeoutIsRowFailure(t *testing.T) {
	loc := portaltest.Locators()
	sess := &mockSession{}
	sess.On("ClearCookies", mock.Anything).Return(nil)
	sess.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	sess.On("WaitVisible", mock.Anything, loc.IdentifierInput).Return(nil)
	sess.On("Focus", mock.Anything, loc.IdentifierInput).Return(nil)
	sess.On("Type", mock.Anything, loc.IdentifierInput, mock.Anything).Return(nil)
	sess.On("WaitVisible", mock.Anything, loc.NextButton).Return(eris.Wrap(browser.ErrTimeout, "wait"))

	out := New(portalConfig("https://portal.test/login", true)).Resolve(context.Background(), sess, mockRow)
	assert.NoError(t, out.Fatal)
	assert.Equal(t, model.StepSubmitIdentifier, out.Step)
	assert.Equal(t, `submit_identifier: input[id="F1:btnSiguiente"]: timed out`, out.Cause)
	sess.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
}

// slowSignedInPage spends every navigation and wait budget in full, and
// only ever shows the logged-in marker.
type slowSignedInPage struct {
	mockSession
	marker string
}

func (p *slowSignedInPage) ClearCookies(context.Context) error { return nil }

func (p *slowSignedInPage) Navigate(ctx context.Context, _ string) error {
	<-ctx.Done()
	return nil
}

func (p *slowSignedInPage) WaitVisible(ctx context.Context, selector string) error {
	if selector == p.marker && ctx.Err() == nil {
		return nil
	}
	<-ctx.Done()
	return eris.Wrap(browser.ErrTimeout, "wait "+selector)
}

func TestResolve_SlowSignedInPageStillDetected(t *testing.T) {
	loc := portaltest.Locators()
	r := &Resolver{
		loginURL:     "https://portal.test/login",
		loc:          loc,
		clearCookies: true,
		stepTimeout:  50 * time.Millisecond,
		navTimeout:   50 * time.Millisecond,
	}

	out := r.Resolve(context.Background(), &slowSignedInPage{marker: loc.LoggedInMarker}, mockRow)
	assert.NoError(t, out.Fatal)
	assert.Equal(t, model.StepNavigateLogin, out.Step)
	assert.Equal(t, "navigate_login: #logout: still authenticated as a previous account", out.Cause)
}

func TestResolve_BlockedPageIsRowFailure(t *testing.T) {
	sess := &mockSession{}
	sess.On("ClearCookies", mock.Anything).Return(nil)
	sess.On("Navigate", mock.Anything, mock.Anything).
		Return(&browser.BlockedError{Kind: browser.BlockCaptcha, URL: "https://portal.test/login"})

	out := New(portalConfig("https://portal.test/login", true)).Resolve(context.Background(), sess, mockRow)
	assert.NoError(t, out.Fatal)
	assert.Equal(t, model.StepNavigateLogin, out.Step)
	assert.Equal(t, "navigate_login: https://portal.test/login: blocked by captcha page", out.Cause)
}

func TestResolve_SessionClosedIsFatal(t *testing.T) {
	sess := &mockSession{}
	sess.On("ClearCookies", mock.Anything).Return(nil)
	sess.On("Navigate", mock.Anything, mock.Anything).Return(eris.Wrap(browser.ErrSessionClosed, "navigate"))

	out := New(portalConfig("https://portal.test/login", true)).Resolve(context.Background(), sess, mockRow)
	require.Error(t, out.Fatal)
	assert.True(t, browser.IsSessionClosed(out.Fatal))
	assert.Equal(t, model.StepNavigateLogin, out.Step)
	assert.Contains(t, out.Cause, "browser session closed")
}

func TestResolve_CancelledContextIsFatal(t *testing.T) {
	sess := &mockSession{}
	ctx, cancel := context.WithCancel(context.Background())
	sess.On("ClearCookies", mock.Anything).Return(nil)
	sess.On("Navigate", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(context.Canceled)

	out := New(portalConfig("https://portal.test/login", true)).Resolve(ctx, sess, mockRow)
	require.Error(t, out.Fatal)
	assert.ErrorIs(t, out.Fatal, context.Canceled)
}

func TestResolve_SkipsCookieClearWhenDisabled(t *testing.T) {
	loc := portaltest.Locators()
	sess := &mockSession{}
	expectLogin(sess, loc, "ACME")

	out := New(portalConfig("https://portal.test/login", false)).Resolve(context.Background(), sess, mockRow)
	assert.True(t, out.Resolved())
	sess.AssertNotCalled(t, "ClearCookies", mock.Anything)
}

func TestNew_DefaultTimeouts(t *testing.T) {
	r := New(config.PortalConfig{})
	assert.Equal(t, 15*time.Second, r.stepTimeout)
	assert.Equal(t, 2*r.stepTimeout, r.navTimeout)
}
