package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatload/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorAccessFromEnv(t *testing.T) {
	t.Setenv(EnvMonitorToken, " secret ")
	t.Setenv(EnvMonitorIPs, "127.0.0.1, 10.0.0.0/8,,")

	access := MonitorAccessFromEnv()
	assert.Equal(t, "secret", access.Token)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/8"}, access.AllowedIPs)
	assert.False(t, access.Open())
}

func TestMonitorAccessOpenByDefault(t *testing.T) {
	t.Setenv(EnvMonitorToken, "")
	t.Setenv(EnvMonitorIPs, "")

	assert.True(t, MonitorAccessFromEnv().Open())
}

func TestAllowsIP(t *testing.T) {
	access := MonitorAccess{AllowedIPs: []string{"192.168.1.5", "10.0.0.0/8", "not-a-cidr/99"}}

	assert.True(t, access.allowsIP("192.168.1.5"))
	assert.True(t, access.allowsIP("10.20.30.40"))
	assert.False(t, access.allowsIP("192.168.1.6"))
	assert.False(t, access.allowsIP("garbage"))
}

func newGuardedEngine(t *testing.T, access MonitorAccess) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	require.NoError(t, router.SetTrustedProxies(nil))
	router.Use(MonitorAuth(access, models.NewNopLoadLogger()))
	router.GET("/guarded", func(c *gin.Context) {
		c.String(http.StatusOK, c.ClientIP())
	})
	return router
}

func TestMonitorAuthIgnoresForwardingHeaders(t *testing.T) {
	router := newGuardedEngine(t, MonitorAccess{AllowedIPs: []string{"10.0.0.5"}})

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Real-IP", "10.0.0.5")
	req.Header.Set("X-Forwarded-For", "10.0.0.5")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10.0.0.5", w.Body.String())
}

func TestMonitorAuthToken(t *testing.T) {
	router := newGuardedEngine(t, MonitorAccess{Token: "secret"})

	tests := []struct {
		name   string
		path   string
		bearer string
		want   int
	}{
		{"bearer", "/guarded", "secret", http.StatusOK},
		{"query", "/guarded?token=secret", "", http.StatusOK},
		{"prefix of token", "/guarded", "secre", http.StatusForbidden},
		{"bearer wins over query", "/guarded?token=secret", "wrong", http.StatusForbidden},
		{"empty", "/guarded", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
