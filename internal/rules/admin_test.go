package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdminRequestDecodesBackendActionAndServers(t *testing.T) {
	req, err := ParseAdminRequest("b=web&action=DISABLE&s=web1&s=web2")
	require.NoError(t, err)
	assert.Equal(t, "web", req.Backend)
	assert.Equal(t, AdminDisable, req.Action)
	assert.Equal(t, []string{"web1", "web2"}, req.Servers)
	assert.True(t, req.Valid())
}

func TestParseAdminRequestUnknownActionIsInvalid(t *testing.T) {
	req, err := ParseAdminRequest("b=web&action=reboot&s=web1")
	require.NoError(t, err)
	assert.False(t, req.Valid())
}

func TestBuildAdminRedirectLocationAppendsStatus(t *testing.T) {
	loc := BuildAdminRedirectLocation("/admin?stats", StatusDone)
	assert.Equal(t, "/admin?stats;st=DONE", loc)
}
