// Package portaltest serves a small two-step login portal for tests: an
// identifier page, a secret page, and a landing page that shows the
// account's display name.
package portaltest

import (
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/sells-group/credresolve/internal/config"
)

const sessionCookie = "portal_session"

// Account is one login the portal accepts.
type Account struct {
	Secret string
	Name   string
}

// Server is a running fake portal.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]Account
	sessions map[string]string
	logins   map[string]int
	hideName bool
}

// New starts a portal that accepts the given identifier -> account map.
func New(accounts map[string]Account) *Server {
	s := &Server{
		accounts: accounts,
		sessions: make(map[string]string),
		logins:   make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", s.loginPage)
	mux.HandleFunc("POST /login/identifier", s.identifier)
	mux.HandleFunc("POST /login/secret", s.secret)
	mux.HandleFunc("GET /portal", s.landing)
	s.Server = httptest.NewServer(mux)
	return s
}

// LoginURL is the portal's entry page.
func (s *Server) LoginURL() string {
	return s.URL + "/login"
}

// Locators returns the selector table matching this portal's markup.
func Locators() config.LocatorConfig {
	return config.LocatorConfig{
		IdentifierInput: `input[id="F1:username"]`,
		NextButton:      `input[id="F1:btnSiguiente"]`,
		SecretInput:     `input[id="F1:password"]`,
		SignInButton:    `input[id="F1:btnIngresar"]`,
		DisplayName:     `header strong.text-primary`,
		LoggedInMarker:  `#logout`,
	}
}

// SetHideName drops the display name from the landing page.
func (s *Server) SetHideName(hide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideName = hide
}

// Logins returns how many successful sign-ins identifier has made.
func (s *Server) Logins(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins[identifier]
}

var pages = template.Must(template.New("login").Parse(`<!doctype html>
<html><body>
<form id="F1" method="post" action="/login/identifier">
  <input type="hidden" name="F1" value="F1">
  <input type="text" id="F1:username" name="F1:username">
  <input type="submit" id="F1:btnSiguiente" name="F1:btnSiguiente" value="Siguiente">
</form>
</body></html>`))

var _ = template.Must(pages.New("secret").Parse(`<!doctype html>
<html><body>
<form id="F1" method="post" action="/login/secret">
  <input type="hidden" name="F1:username" value="{{.}}">
  <input type="password" id="F1:password" name="F1:password">
  <input type="submit" id="F1:btnIngresar" name="F1:btnIngresar" value="Ingresar">
</form>
</body></html>`))

var _ = template.Must(pages.New("error").Parse(`<!doctype html>
<html><body><p class="error">{{.}}</p></body></html>`))

var _ = template.Must(pages.New("landing").Parse(`<!doctype html>
<html><body>
<header>{{if .Show}}<strong class="text-primary">  {{.Name}}  </strong>{{end}}<a id="logout" href="/logout">Salir</a></header>
</body></html>`))

func (s *Server) current(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[c.Value]
	return id, ok
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.current(r); ok {
		http.Redirect(w, r, "/portal", http.StatusFound)
		return
	}
	_ = pages.ExecuteTemplate(w, "login", nil)
}

func (s *Server) identifier(w http.ResponseWriter, r *http.Request) {
	id := r.PostFormValue("F1:username")
	s.mu.Lock()
	_, ok := s.accounts[id]
	s.mu.Unlock()
	if !ok {
		_ = pages.ExecuteTemplate(w, "error", "Número de CUIT/CUIL incorrecto")
		return
	}
	_ = pages.ExecuteTemplate(w, "secret", id)
}

func (s *Server) secret(w http.ResponseWriter, r *http.Request) {
	id := r.PostFormValue("F1:username")
	s.mu.Lock()
	acct, ok := s.accounts[id]
	if !ok || acct.Secret != r.PostFormValue("F1:password") {
		s.mu.Unlock()
		_ = pages.ExecuteTemplate(w, "error", "Clave o usuario incorrecto")
		return
	}
	s.logins[id]++
	token := fmt.Sprintf("%s-%d", id, s.logins[id])
	s.sessions[token] = id
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/"})
	http.Redirect(w, r, "/portal", http.StatusFound)
}

func (s *Server) landing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.current(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	s.mu.Lock()
	acct := s.accounts[id]
	show := !s.hideName
	s.mu.Unlock()
	_ = pages.ExecuteTemplate(w, "landing", struct {
		Name string
		Show bool
	}{acct.Name, show})
}
