package middleware

import (
	"net/http"
	"runtime/debug"

	"randomchat/backend/internal/apperrors"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the first error pushed with c.Error as
// {success:false, error, code} using the AppError status.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		appErr := apperrors.FromError(c.Errors[0].Err)

		log := GetLogger(c)
		args := []any{
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"status_code", appErr.StatusCode,
			"error_code", appErr.Code,
		}
		if appErr.StatusCode >= http.StatusInternalServerError {
			log.LogError(appErr, "request failed", args...)
		} else {
			log.Debug("request rejected", append(args, "message", appErr.Message)...)
		}

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(appErr.StatusCode, gin.H{
			"success": false,
			"error":   appErr.Message,
			"code":    appErr.Code,
		})
	}
}

// Recovery turns a panic into a 500 response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				GetLogger(c).Error("panic recovered",
					"error", r,
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "internal server error",
					"code":    apperrors.CodeInternal,
				})
			}
		}()
		c.Next()
	}
}
