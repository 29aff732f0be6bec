package handler

import (
	"strconv"
	"sync"
	"time"

	"coffeeshop/internal/service"
	"coffeeshop/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	ctxUserID   = "coffeeshop.user_id"
	ctxUserRole = "coffeeshop.user_role"
)

func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if uid, ok := c.Get(ctxUserID); ok {
			fields = append(fields, zap.Int64("user_id", uid.(int64)))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= 500 {
			log.Warn("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 envelope.
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic in handler",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				response.ServerError(c, "internal server error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-User-ID, X-User-Role")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware reads the caller identity resolved by the gateway. A
// missing role means customer.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			response.Error(c, response.CodeUnauthorized, "missing or invalid "+HeaderUserID)
			return
		}

		role := c.GetHeader(HeaderUserRole)
		if role == "" {
			role = service.RoleCustomer
		}
		if !service.IsValidRole(role) {
			response.Error(c, response.CodeUnauthorized, "unknown role "+role)
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxUserRole, role)
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxUserRole)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Error(c, response.CodeForbidden, "role "+role+" may not access this resource")
	}
}

func currentUser(c *gin.Context) (int64, string) {
	return c.GetInt64(ctxUserID), c.GetString(ctxUserRole)
}

const maxLimiters = 10000

// RateLimiter keeps one token bucket per user. The map is reset once it
// reaches maxLimiters.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
	log      *zap.Logger
}

// NewRateLimiter allows perMinute requests per user per minute, with bursts
// of up to perMinute.
func NewRateLimiter(perMinute int, log *zap.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		log:      log,
	}
}

func (rl *RateLimiter) limiter(userID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[userID]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[int64]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[userID] = l
	}
	return l
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := currentUser(c)
		if !rl.limiter(userID).Allow() {
			rl.log.Warn("rate limit exceeded", zap.Int64("user_id", userID), zap.String("path", c.FullPath()))
			response.Error(c, response.CodeTooManyReqs, "too many requests, try again later")
			return
		}
		c.Next()
	}
}
