// Package ratelimit guards the HTTP surface and websocket upgrades, backed
// by Redis when available and process memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Config carries the formatted rates, e.g. "100-M" for 100 per minute.
type Config struct {
	API    string
	WsIP   string
	WsUser string
}

// Limiter holds one limiter per surface sharing a single store.
type Limiter struct {
	api    *limiter.Limiter
	wsIP   *limiter.Limiter
	wsUser *limiter.Limiter
}

// New builds the limiters. A nil redis client falls back to an in-memory
// store, which is fine for single-node deployments.
func New(cfg Config, redisClient *redis.Client) (*Limiter, error) {
	apiRate, err := limiter.NewRateFromFormatted(cfg.API)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.WsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket IP rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(cfg.WsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket user rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:sfu:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	return &Limiter{
		api:    limiter.New(store, apiRate),
		wsIP:   limiter.New(store, wsIPRate),
		wsUser: limiter.New(store, wsUserRate),
	}, nil
}

// APIMiddleware limits REST calls per client IP. Store failures fail open:
// availability beats strictness here.
func (l *Limiter) APIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := l.api.Get(ctx, c.ClientIP())
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}
		c.Next()
	}
}

// CheckWebSocketIP gates an upgrade attempt by client IP, writing the 429
// itself when the limit is hit.
func (l *Limiter) CheckWebSocketIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := l.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "Websocket rate limiter store failed", zap.Error(err))
		return true
	}
	if lctx.Reached {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}
	return true
}

// CheckWebSocketUser gates connection churn per authenticated identity.
func (l *Limiter) CheckWebSocketUser(ctx context.Context, identity string) error {
	lctx, err := l.wsUser.Get(ctx, identity)
	if err != nil {
		logging.Error(ctx, "Websocket rate limiter store failed", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		return fmt.Errorf("connection rate limit exceeded for %s", identity)
	}
	return nil
}
