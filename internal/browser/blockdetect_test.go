package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBlock_Cloudflare403(t *testing.T) {
	assert.Equal(t, BlockCloudflare, DetectBlock(403, http.Header{"Cf-Ray": {"abc123"}}, nil))
}

func TestDetectBlock_Cloudflare503Server(t *testing.T) {
	assert.Equal(t, BlockCloudflare, DetectBlock(503, http.Header{"Server": {"cloudflare"}}, nil))
}

func TestDetectBlock_ChallengeBody(t *testing.T) {
	body := []byte("<html><title>Just a moment...</title>Checking your browser before accessing</html>")
	assert.Equal(t, BlockCloudflare, DetectBlock(200, http.Header{}, body))
}

func TestDetectBlock_CaptchaWidget(t *testing.T) {
	body := []byte(`<html><form><div class="g-recaptcha" data-sitekey="x"></div></form></html>`)
	assert.Equal(t, BlockCaptcha, DetectBlock(200, http.Header{}, body))
}

func TestDetectBlock_JSShell(t *testing.T) {
	body := []byte("<html><noscript>Enable JavaScript to continue</noscript></html>")
	assert.Equal(t, BlockJSShell, DetectBlock(200, http.Header{}, body))
}

func TestDetectBlock_LoginFormWithNoscript(t *testing.T) {
	body := []byte(`<html><noscript>JavaScript recommended</noscript><form action="/login"><input name="u"></form></html>`)
	assert.Equal(t, BlockNone, DetectBlock(200, http.Header{}, body))
}

func TestDetectBlock_CleanPage(t *testing.T) {
	assert.Equal(t, BlockNone, DetectBlock(200, http.Header{}, []byte("<html><body>Bienvenido</body></html>")))
}

func TestFormSession_BlockedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("cf-ray", "8a1b2c")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html>Attention Required!</html>"))
	}))
	defer srv.Close()

	sess := newFormSession(t)
	err := sess.Navigate(context.Background(), srv.URL+"/login")
	require.Error(t, err)

	var blocked *BlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, BlockCloudflare, blocked.Kind)
}
