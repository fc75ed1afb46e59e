package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerUserID       = "X-User-ID"
	headerInternalAuth = "X-Internal-Auth"
	headerRequestID    = "X-Request-ID"
	ctxUserID          = "userID"
	ctxRequestID       = "requestID"
)

func setupMiddleware(r *gin.Engine, log *zap.SugaredLogger) {
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", headerUserID},
		ExposeHeaders:   []string{"Content-Length", headerRequestID},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(RequestLogger(log))
	r.Use(gin.Recovery())
}

// RequestLogger tags each request with an id and logs it once it completes.
func RequestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ctxRequestID, requestID)
		c.Header(headerRequestID, requestID)

		c.Next()

		log.Infow("request",
			"requestID", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"clientIP", c.ClientIP(),
			"latency", time.Since(start).String(),
			"userAgent", c.Request.UserAgent(),
		)
	}
}

// InternalAuth guards batch endpoints. An empty token disables them.
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(headerInternalAuth)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireUser reads the caller's user id from X-User-ID.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader(headerUserID), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + headerUserID})
			return
		}
		c.Set(ctxUserID, uint(id))
		c.Next()
	}
}

func userID(c *gin.Context) uint {
	return c.GetUint(ctxUserID)
}
