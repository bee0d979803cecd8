package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"chatload/models"

	"github.com/gin-gonic/gin"
)

const (
	EnvMonitorToken = "CHATLOAD_MONITOR_TOKEN"
	EnvMonitorIPs   = "CHATLOAD_MONITOR_IPS"
)

// MonitorAccess holds who may read the monitor API. An empty policy lets
// everyone through.
type MonitorAccess struct {
	Token      string
	AllowedIPs []string
}

// MonitorAccessFromEnv reads the policy from CHATLOAD_MONITOR_TOKEN and the
// comma separated CHATLOAD_MONITOR_IPS (addresses or CIDR ranges).
func MonitorAccessFromEnv() MonitorAccess {
	access := MonitorAccess{
		Token: strings.TrimSpace(os.Getenv(EnvMonitorToken)),
	}
	for _, ip := range strings.Split(os.Getenv(EnvMonitorIPs), ",") {
		if cleanIP := strings.TrimSpace(ip); cleanIP != "" {
			access.AllowedIPs = append(access.AllowedIPs, cleanIP)
		}
	}
	return access
}

func (a MonitorAccess) Open() bool {
	return a.Token == "" && len(a.AllowedIPs) == 0
}

// getClientIP trusts forwarding headers only from the proxies configured on
// the engine; SetupRouter trusts none.
func getClientIP(c *gin.Context) string {
	return c.ClientIP()
}

func (a MonitorAccess) allowsIP(clientIP string) bool {
	for _, allowed := range a.AllowedIPs {
		if clientIP == allowed {
			return true
		}
		// CIDR ranges
		if strings.Contains(allowed, "/") {
			_, network, err := net.ParseCIDR(allowed)
			if err == nil {
				ip := net.ParseIP(clientIP)
				if ip != nil && network.Contains(ip) {
					return true
				}
			}
		}
	}
	return false
}

func (a MonitorAccess) hasValidToken(c *gin.Context) bool {
	if a.Token == "" {
		return false
	}

	token := c.Query("token")
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) == 1
}

// MonitorAuth guards the monitor API with a bearer token and/or an IP
// allowlist.
func MonitorAuth(access MonitorAccess, logger *models.LoadLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if access.Open() {
			c.Next()
			return
		}

		clientIP := getClientIP(c)

		if access.hasValidToken(c) {
			c.Next()
			return
		}

		if access.allowsIP(clientIP) {
			c.Next()
			return
		}

		logger.Warning("Monitor access denied for IP %s", clientIP)
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Access denied - monitor authentication required",
			"hint":  "Use a bearer token or an allowed IP address",
		})
		c.Abort()
	}
}

// RequestLogger writes one debug line per request.
func RequestLogger(logger *models.LoadLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("monitor %s %s -> %d (%v, %s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Microsecond), getClientIP(c))
	}
}
