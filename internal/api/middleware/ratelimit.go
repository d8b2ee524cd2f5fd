package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// rateLimitPrefix namespaces limiter keys in a shared Redis.
const rateLimitPrefix = "seatkeeper:ratelimit"

// RateLimitConfig configures per-client-IP request limiting.
type RateLimitConfig struct {
	Requests int64
	Period   time.Duration
	// Redis, when set, shares counters between server instances.
	Redis *redis.Client
}

// NewRateLimiter creates a Gin middleware that limits each client IP to
// cfg.Requests per cfg.Period.
func NewRateLimiter(cfg RateLimitConfig, logger zerolog.Logger) (gin.HandlerFunc, error) {
	if cfg.Requests <= 0 {
		return nil, errors.New("rate limit requests must be positive")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("invalid rate limit period %v", cfg.Period)
	}

	rate := limiter.Rate{
		Period: cfg.Period,
		Limit:  cfg.Requests,
	}

	var store limiter.Store
	if cfg.Redis != nil {
		s, err := sredis.NewStoreWithOptions(cfg.Redis, limiter.StoreOptions{
			Prefix:   rateLimitPrefix,
			MaxRetry: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	log := logger.With().Str("component", "ratelimit").Logger()
	instance := limiter.New(store, rate)

	middleware := mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Too many requests",
				"code":    "RateLimited",
			})
		}),
		// Store errors let the request through.
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			log.Error().Err(err).Msg("rate limiter unavailable")
			c.Next()
		}),
	)
	return middleware, nil
}
