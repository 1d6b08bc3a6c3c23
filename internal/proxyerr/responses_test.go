package proxyerr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCannedResponseIncludesStatusAndConnectionClose(t *testing.T) {
	resp := string(CannedResponse(503))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 503 Service Unavailable\r\n"))
	assert.Contains(t, resp, "Connection: close\r\n")
	assert.Contains(t, resp, "503 Service Unavailable")
}

func TestAuthChallengeUsesProxyAuthenticateFor407(t *testing.T) {
	resp := string(AuthChallenge(407, "intranet"))
	assert.Contains(t, resp, "Proxy-Authenticate: Basic realm=\"intranet\"")
}

func TestAuthChallengeUsesWWWAuthenticateFor401(t *testing.T) {
	resp := string(AuthChallenge(401, "site"))
	assert.Contains(t, resp, "WWW-Authenticate: Basic realm=\"site\"")
}

func TestRedirectResponseKeepAliveAndCookie(t *testing.T) {
	resp := string(RedirectResponse(302, "/new", "sid=1", true))
	assert.Contains(t, resp, "Location: /new\r\n")
	assert.Contains(t, resp, "Set-Cookie: sid=1\r\n")
	assert.Contains(t, resp, "Connection: keep-alive\r\n")
}

func TestRedirectResponseClosesWhenNotKeptAlive(t *testing.T) {
	resp := string(RedirectResponse(301, "/x", "", false))
	assert.Contains(t, resp, "Connection: close\r\n")
	assert.NotContains(t, resp, "Set-Cookie")
}
