// Package browser provides the session driver used to walk a login portal:
// navigate, wait for an element, type, click, and read text, each bounded by
// the caller's context. Two backends exist: a headless Chrome driven over
// CDP, and a lightweight HTML form client for portals that work without
// JavaScript.
package browser

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

var (
	// ErrSessionClosed means the session can no longer drive the portal,
	// either because Close was called or the browser went away.
	ErrSessionClosed = eris.New("browser: session closed")

	// ErrElementNotFound means a selector matched nothing before the deadline.
	ErrElementNotFound = eris.New("browser: element not found")

	// ErrTimeout means the operation's deadline expired.
	ErrTimeout = eris.New("browser: timed out")
)

// Session is one browsing context against the portal. A Session is not safe
// for concurrent use; the batch that acquired it owns it exclusively.
type Session interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitVisible waits until selector matches a visible element.
	WaitVisible(ctx context.Context, selector string) error
	// Focus moves input focus to the element.
	Focus(ctx context.Context, selector string) error
	// Type replaces the element's value with text.
	Type(ctx context.Context, selector, text string) error
	// Click activates the element and waits for any resulting navigation to settle.
	Click(ctx context.Context, selector string) error
	// Text returns the text content of the element.
	Text(ctx context.Context, selector string) (string, error)
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
	// ClearCookies drops every cookie held by the session.
	ClearCookies(ctx context.Context) error
	// Close releases the session. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Launcher acquires sessions.
type Launcher interface {
	Acquire(ctx context.Context) (Session, error)
}

// IsSessionClosed reports whether err means the session is gone.
func IsSessionClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// combineContext returns a context carrying the values of session (chromedp
// keeps its target there) that is also cancelled when op is done.
func combineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(session)
	stop := context.AfterFunc(op, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
