package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDMiddleware stamps every request with an X-Request-ID, generating
// one if the caller didn't supply it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// LoggingMiddleware logs one structured line per request.
func LoggingMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"request_id": getRequestID(c),
		}).Info("request handled")
	}
}

// RecoveryMiddleware turns a handler panic into a 500 envelope instead of
// killing the server.
func RecoveryMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered interface{}) {
		logger.WithField("panic", recovered).Error("recovered from handler panic")
		InternalError(c, "internal server error", nil)
		c.Abort()
	})
}

// SecurityHeadersMiddleware sets the handful of headers an operator API
// should always carry.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

// CORSMiddleware allows cross-origin reads from any origin; this is an
// operator API with no cookie-based auth, so a permissive policy doesn't
// widen the attack surface.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// ValidateContentTypeMiddleware rejects bodies that aren't JSON on
// state-changing methods.
func ValidateContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "POST" || c.Request.Method == "PUT" {
			if c.Request.ContentLength > 0 {
				ct := c.GetHeader("Content-Type")
				if ct != "" && !strings.HasPrefix(ct, "application/json") {
					BadRequestError(c, "Content-Type must be application/json", nil)
					c.Abort()
					return
				}
			}
		}
		c.Next()
	}
}

// RequestSizeLimitMiddleware caps request bodies at 1MiB; workflow plans are
// small JSON documents, not file uploads.
func RequestSizeLimitMiddleware() gin.HandlerFunc {
	const maxBytes = 1 << 20
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
