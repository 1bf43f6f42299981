// Package api implements the orchestrator's operator-facing HTTP surface:
// submit a workflow, inspect or steer a running execution, and scrape
// aggregate metrics.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every handler replies with.
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty"`
	Metadata *Metadata   `json:"metadata"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

// Metadata is attached to every response, success or failure.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	Version   string    `json:"version"`
}

const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// SuccessResponse writes a 200 envelope carrying data.
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Success:  true,
		Data:     data,
		Metadata: &Metadata{Timestamp: time.Now(), RequestID: getRequestID(c), Version: "v1"},
	})
}

// ErrorResponse writes a statusCode envelope carrying an ErrorInfo.
func ErrorResponse(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      errorCode,
			Message:   message,
			Details:   details,
			Timestamp: time.Now(),
			RequestID: getRequestID(c),
		},
		Metadata: &Metadata{Timestamp: time.Now(), RequestID: getRequestID(c), Version: "v1"},
	})
}

func BadRequestError(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, 400, ErrorCodeBadRequest, message, details)
}

func NotFoundError(c *gin.Context, message string) {
	ErrorResponse(c, 404, ErrorCodeNotFound, message, nil)
}

func ConflictError(c *gin.Context, message string) {
	ErrorResponse(c, 409, ErrorCodeConflict, message, nil)
}

func InternalError(c *gin.Context, message string, details interface{}) {
	ErrorResponse(c, 500, ErrorCodeInternalError, message, details)
}

func getRequestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
