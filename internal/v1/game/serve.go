package game

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
	"github.com/larrymotalavigne/job-wars/internal/v1/metrics"
	"github.com/larrymotalavigne/job-wars/internal/v1/ratelimit"
)

// ServeWs returns the gin handler for the /ws endpoint: it rate-limits the
// upgrade by client IP, upgrades the connection, adds it to the live set
// and starts the client's pumps.
func (g *Registry) ServeWs(limiter *ratelimit.Limiter) gin.HandlerFunc {
	allowedOrigins := parseAllowedOrigins(g.cfg.AllowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				// Pre-allocate 4KB buffers
				return make([]byte, 4096)
			},
		},
	}

	return func(c *gin.Context) {
		if limiter != nil && !limiter.AllowWs(c) {
			metrics.ConnRateLimited.WithLabelValues("ws").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
			return
		}

		client := newClient(conn, g, c.ClientIP())
		g.mu.Lock()
		g.live[client] = struct{}{}
		g.mu.Unlock()
		metrics.IncConnection()
		logging.Info(c.Request.Context(), "new WebSocket connection",
			zap.String("remote", client.remoteAddr))

		go client.writePump()
		go client.readPump()
	}
}

// parseAllowedOrigins splits the comma-separated ALLOWED_ORIGINS value.
// Empty means every origin is accepted, matching the open CORS policy of
// the HTTP surface.
func parseAllowedOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true // Allow non-browser clients and open deployments
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		allowedURL, err := url.Parse(a)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}
