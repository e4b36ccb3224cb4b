package httpcache

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVaryKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/page?q=1", nil)
	req.Header.Set("X-User-Role", "admin")
	res := &http.Response{Header: http.Header{"Vary": {"X-User-Role, Accept"}}}

	prefix := keyPrefix(req)
	assert.Equal(t, "GET:/page?q=1\t", prefix)
	key := varyKey(prefix, req, res)
	assert.Equal(t, "GET:/page?q=1\t\nx-user-role: admin\naccept: ", key)

	assert.True(t, matchesVary(key, req))

	other := httptest.NewRequest("GET", "/page?q=1", nil)
	other.Header.Set("X-User-Role", "admin")
	other.Header.Set("Accept", "text/html")
	assert.False(t, matchesVary(key, other))

	assert.True(t, matchesVary(prefix, other))
}

func TestVaryAll(t *testing.T) {
	assert.True(t, varyAll(http.Header{"Vary": {"Accept", " * "}}))
	assert.False(t, varyAll(http.Header{"Vary": {"Accept"}}))
}
