package browser

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/sells-group/credresolve/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// FormOptions configures the HTML form launcher.
type FormOptions struct {
	UserAgent         string
	RequestsPerSecond float64       // 0 disables the limiter
	Timeout           time.Duration // per request, default 30s
	CloudflareBypass  bool
}

// FormLauncher creates sessions that speak plain HTTP: pages are fetched
// and parsed, typed values are kept against their form, and clicking a
// submit control posts that form.
type FormLauncher struct {
	opts FormOptions
}

// NewFormLauncher creates a form launcher.
func NewFormLauncher(opts FormOptions) *FormLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FormLauncher{opts: opts}
}

// Acquire builds a new HTTP client with its own cookie jar.
func (l *FormLauncher) Acquire(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "browser: acquire form session")
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "browser: cookie jar")
	}
	client.SetCookieJar(jar)
	if l.opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("user-agent", l.opts.UserAgent)
	client.SetTimeout(l.opts.Timeout)

	if l.opts.RequestsPerSecond > 0 {
		// burst of 2 lets a submit and its redirect go out back to back
		limiter := rate.NewLimiter(rate.Limit(l.opts.RequestsPerSecond), 2)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return &formSession{
		client: client,
		typed:  make(map[*html.Node]string),
	}, nil
}

type formSession struct {
	mu     sync.Mutex
	client *resty.Client
	doc    *goquery.Document
	url    *url.URL
	typed  map[*html.Node]string
	focus  *html.Node
	closed bool
}

func (s *formSession) Navigate(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return eris.Wrap(ErrSessionClosed, "navigate "+target)
	}

	u, err := s.resolve(target)
	if err != nil {
		return err
	}
	return s.load(ctx, http.MethodGet, u, nil)
}

func (s *formSession) WaitVisible(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.find(ctx, selector)
	return err
}

func (s *formSession) Focus(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(ctx, selector)
	if err != nil {
		return err
	}
	s.focus = sel.Get(0)
	return nil
}

func (s *formSession) Type(ctx context.Context, selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(ctx, selector)
	if err != nil {
		return err
	}
	if !sel.Is("input, textarea") {
		return eris.Errorf("browser: %s is not a text field", selector)
	}
	s.typed[sel.Get(0)] = text
	return nil
}

func (s *formSession) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(ctx, selector)
	if err != nil {
		return err
	}

	if href, ok := sel.Attr("href"); ok && sel.Is("a") {
		u, err := s.resolve(href)
		if err != nil {
			return err
		}
		return s.load(ctx, http.MethodGet, u, nil)
	}

	form := sel.Closest("form")
	if form.Length() == 0 {
		return eris.Errorf("browser: %s is not inside a form", selector)
	}
	return s.submit(ctx, form, sel)
}

func (s *formSession) Text(ctx context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.find(ctx, selector)
	if err != nil {
		return "", err
	}
	if sel.Is("input, textarea") {
		return sel.AttrOr("value", ""), nil
	}
	return sel.Text(), nil
}

func (s *formSession) Location(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.url == nil {
		return "about:blank", nil
	}
	return s.url.String(), nil
}

func (s *formSession) ClearCookies(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return eris.Wrap(err, "browser: cookie jar")
	}
	s.client.SetCookieJar(jar)
	return nil
}

func (s *formSession) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.doc = nil
	s.typed = nil
	s.client.GetClient().CloseIdleConnections()
	return nil
}

// find returns the first visible match for selector in the current page.
// A parsed page never changes, so a missing element is reported at once.
func (s *formSession) find(ctx context.Context, selector string) (*goquery.Selection, error) {
	if s.closed {
		return nil, eris.Wrap(ErrSessionClosed, selector)
	}
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return nil, eris.Wrap(ErrTimeout, selector)
		}
		return nil, eris.Wrap(err, selector)
	}
	if s.doc == nil {
		return nil, eris.Wrapf(ErrElementNotFound, "%s: no page loaded", selector)
	}

	sel := s.doc.Find(selector).FilterFunction(func(_ int, n *goquery.Selection) bool {
		return visible(n)
	}).First()
	if sel.Length() == 0 {
		return nil, eris.Wrap(ErrElementNotFound, selector)
	}
	return sel, nil
}

func visible(sel *goquery.Selection) bool {
	if strings.EqualFold(sel.AttrOr("type", ""), "hidden") {
		return false
	}
	for n := sel; n.Length() > 0; n = n.Parent() {
		if _, hidden := n.Attr("hidden"); hidden {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

// submit serializes form the way a browser would when submitter is clicked.
func (s *formSession) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := field.Attr("disabled"); disabled {
			return
		}

		node := field.Get(0)
		switch {
		case field.Is("select"):
			opt := field.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = field.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
			return
		case field.Is("textarea"):
			if v, ok := s.typed[node]; ok {
				values.Add(name, v)
			} else {
				values.Add(name, field.Text())
			}
			return
		}

		switch strings.ToLower(field.AttrOr("type", "text")) {
		case "submit", "image", "button", "reset":
			if node == submitter.Get(0) {
				values.Add(name, field.AttrOr("value", ""))
			}
		case "checkbox", "radio":
			if _, checked := field.Attr("checked"); checked {
				values.Add(name, field.AttrOr("value", "on"))
			}
		default:
			if v, ok := s.typed[node]; ok {
				values.Add(name, v)
			} else {
				values.Add(name, field.AttrOr("value", ""))
			}
		}
	})
	if submitter.Is("button") {
		if name, ok := submitter.Attr("name"); ok && name != "" {
			values.Add(name, submitter.AttrOr("value", ""))
		}
	}

	action := form.AttrOr("action", "")
	if fa, ok := submitter.Attr("formaction"); ok {
		action = fa
	}
	target, err := s.resolve(action)
	if err != nil {
		return err
	}

	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	if method != http.MethodPost {
		target.RawQuery = values.Encode()
		return s.load(ctx, http.MethodGet, target, nil)
	}
	return s.load(ctx, http.MethodPost, target, values)
}

func (s *formSession) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, eris.Wrapf(err, "browser: parse url %q", ref)
	}
	if s.url != nil {
		u = s.url.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, eris.Errorf("browser: url %q is not absolute", ref)
	}
	return u, nil
}

// load performs the request and replaces the current page with the response.
func (s *formSession) load(ctx context.Context, method string, target *url.URL, form url.Values) error {
	req := s.client.R().SetContext(ctx)
	if s.url != nil {
		req.SetHeader("referer", s.url.String())
	}
	if form != nil {
		req.SetFormDataFromValues(form)
	}

	res, err := req.Execute(method, target.String())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return eris.Wrapf(ErrTimeout, "%s %s", method, target.Redacted())
		}
		return eris.Wrapf(err, "browser: %s %s", method, target.Redacted())
	}
	if kind := DetectBlock(res.StatusCode(), res.Header(), res.Body()); kind != BlockNone {
		return &BlockedError{Kind: kind, URL: target.Redacted()}
	}
	if res.StatusCode() >= http.StatusBadRequest {
		err := eris.Errorf("browser: %s %s: status %d", method, target.Redacted(), res.StatusCode())
		if resilience.IsTransientHTTPStatus(res.StatusCode()) {
			return resilience.NewTransientError(err, res.StatusCode())
		}
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return eris.Wrap(err, "browser: parse html")
	}

	final := target
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL
	}

	zap.L().Debug("browser: form page loaded",
		zap.String("method", method),
		zap.String("url", final.Redacted()),
		zap.Int("status", res.StatusCode()),
	)

	s.doc = doc
	s.url = final
	s.typed = make(map[*html.Node]string)
	s.focus = nil
	return nil
}
