package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/core"
)

// setNDJSONHeaders sets line-delimited streaming response headers
func setNDJSONHeaders(c *gin.Context) {
	c.Header(core.HeaderContentType, core.ContentTypeNDJSON)
	c.Header(core.HeaderCacheControl, core.CacheControlNoCache)
	c.Header(core.HeaderConnection, core.ConnectionKeepAlive)
	c.Header("X-Accel-Buffering", "no")
}

// respondWithError writes {"error": msg} with the status of the error kind.
// Nothing is written for a canceled request; the client is already gone.
func respondWithError(c *gin.Context, err error) {
	appErr := core.AsAppError(err)
	if appErr.Kind == core.KindCanceled {
		c.AbortWithStatus(core.StatusClientClosedRequest)
		return
	}
	c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.PublicMessage()})
}

// recordRequestResult records one gateway call in request history.
func (s *Server) recordRequestResult(success bool, startTime time.Time, model, client string) {
	s.metricsService.RecordRequest(success, time.Since(startTime), model, client)
}

// fail logs err at a level matching who caused it, records the failure and
// responds. It must only be used before any response byte has been written.
func (s *Server) fail(c *gin.Context, startTime time.Time, model string, err error) {
	appErr := core.AsAppError(err)
	switch appErr.Kind {
	case core.KindValidation:
		s.logger.Info("Rejected %s %s: %s", c.Request.Method, c.Request.URL.Path, appErr.Message)
	case core.KindCanceled:
		s.logger.Debug("Client canceled %s %s", c.Request.Method, c.Request.URL.Path)
	case core.KindUpstreamConnection, core.KindUpstreamTimeout:
		s.logger.Warn("Backend failure on %s: %v", c.Request.URL.Path, appErr)
	default:
		s.logger.Error("Unexpected failure on %s: %v", c.Request.URL.Path, appErr)
	}
	s.recordRequestResult(false, startTime, model, clientLabel(c))
	respondWithError(c, appErr)
}

// withPanicRecovery wraps handler with panic recovery
func (s *Server) withPanicRecovery(c *gin.Context, startTime time.Time) func() {
	return func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in handler: %v", r)
			s.recordRequestResult(false, startTime, "", clientLabel(c))
			if !c.Writer.Written() {
				respondWithError(c, core.ErrUnexpected(nil))
			}
			c.Abort()
		}
	}
}
