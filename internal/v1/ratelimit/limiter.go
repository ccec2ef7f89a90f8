// Package ratelimit enforces connection-level limits in front of the room
// coordinator: per-IP websocket connects and per-IP API requests. The
// per-room action window lives with the rooms themselves.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/larrymotalavigne/job-wars/internal/v1/config"
	"github.com/larrymotalavigne/job-wars/internal/v1/logging"
)

// Limiter holds the rate limiter instances.
type Limiter struct {
	apiPublic *limiter.Limiter
	wsIP      *limiter.Limiter
}

// New creates a Limiter backed by an in-memory store (one process owns all
// rooms, so there is no shared store to coordinate with).
func New(cfg *config.Config) (*Limiter, error) {
	apiRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()
	return &Limiter{
		apiPublic: limiter.New(store, apiRate),
		wsIP:      limiter.New(store, wsRate),
	}, nil
}

// AllowWs checks the per-IP websocket connect limit. Fails open on store
// errors.
func (rl *Limiter) AllowWs(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := rl.wsIP.Get(ctx, "ws:"+c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}
	return !lctx.Reached
}

// APIMiddleware returns a gin middleware enforcing the per-IP API limit.
func (rl *Limiter) APIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := rl.apiPublic.Get(ctx, "api:"+c.ClientIP())
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}
		c.Next()
	}
}
