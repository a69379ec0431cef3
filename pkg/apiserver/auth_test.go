package apiserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thorium-sh/thorium/pkg/engine"
)

func writeKeyFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))
	return path
}

func TestLoadKeyStoreResolvesComponentAndUser(t *testing.T) {
	path := writeKeyFile(t, "tok-reactor component:reactor\ntok-alice user:alice\n# comment\n\n")
	ks, err := LoadKeyStore(path)
	require.NoError(t, err)

	by, ok := ks.Lookup("tok-reactor")
	require.True(t, ok)
	assert.Equal(t, engine.Requestor{Component: "reactor"}, by)

	by, ok = ks.Lookup("tok-alice")
	require.True(t, ok)
	assert.Equal(t, engine.Requestor{User: "alice"}, by)

	_, ok = ks.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadKeyStoreRejectsMalformedLine(t *testing.T) {
	path := writeKeyFile(t, "bad-line-with-no-identity\n")
	_, err := LoadKeyStore(path)
	assert.Error(t, err)
}

func TestAuthMiddlewareRejectsMissingOrUnknownToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ks, err := LoadKeyStore(writeKeyFile(t, "tok-reactor component:reactor\n"))
	require.NoError(t, err)

	r := gin.New()
	r.Use(authMiddleware(ks))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer tok-reactor")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
