package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
)

// SetupCommonMiddleware installs request id, logging, recovery and CORS, in
// that order, so every log line and panic carries the request id
func SetupCommonMiddleware(r *gin.Engine, logger logging.Logger) {
	r.Use(RequestIDMiddleware(), LoggingMiddleware(logger), RecoveryMiddleware(logger), CORSMiddleware())
}

// GetContextLogger scopes logger to the request
func GetContextLogger(c *gin.Context, logger logging.Logger) logging.Entry {
	fields := logging.Fields{
		"request_id": c.GetString(RequestIDKey),
		"method":     c.Request.Method,
		"client_ip":  c.ClientIP(),
	}
	if route := c.FullPath(); route != "" {
		fields["route"] = route
	} else {
		fields["path"] = c.Request.URL.Path
	}
	return logger.WithFields(fields)
}
