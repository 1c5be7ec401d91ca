package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/core"
	"dify2ollama/internal/process"
	"dify2ollama/internal/util"
)

// hopHeaders are response headers that must not be relayed to the client.
var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
}

const proxyBufferSize = 32 * 1024

// handleNoRoute forwards unknown /api/ paths to Ollama and 404s the rest.
func (s *Server) handleNoRoute(c *gin.Context) {
	if !strings.HasPrefix(c.Request.URL.Path, core.RouteAPIPrefix) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.authorize(c)
	if c.IsAborted() {
		return
	}
	s.proxyOllama(c)
}

// proxyTimeout returns the deadline for a passthrough call, or false when the
// method is not forwarded.
func proxyTimeout(method string) (time.Duration, bool) {
	switch method {
	case http.MethodPost:
		return core.ProxyPostTimeout, true
	case http.MethodGet, http.MethodPut, http.MethodDelete:
		return core.ProxyDefaultTimeout, true
	default:
		return 0, false
	}
}

func (s *Server) proxyOllama(c *gin.Context) {
	if s.config.OllamaBaseURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	timeout, ok := proxyTimeout(c.Request.Method)
	if !ok {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	target := util.JoinURL(s.config.OllamaBaseURL, c.Request.URL.Path)
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		target += "?" + rawQuery
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	var body io.Reader
	withJSON := (c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut) &&
		c.ContentType() == core.ContentTypeJSON
	if withJSON {
		body = c.Request.Body
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, body)
	if err != nil {
		respondWithError(c, core.ErrUnexpected(err))
		return
	}
	if withJSON {
		req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	}

	s.logger.Debug("Proxy %s %s", c.Request.Method, target)

	resp, err := s.httpClient.Do(req) //nolint:gosec // target is the configured Ollama URL
	if err != nil {
		s.logger.Warn("Proxy call failed: %v", err)
		respondWithError(c, process.ClassifyError(ctx, err, "Cannot connect to Ollama"))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Writer.Header()
	for key, values := range resp.Header {
		if hopHeaders[strings.ToLower(key)] {
			continue
		}
		header.Del(key)
		for _, v := range values {
			header.Add(key, v)
		}
	}
	if header.Get(core.HeaderContentType) == "" && resp.StatusCode != http.StatusNoContent {
		header.Set(core.HeaderContentType, core.ContentTypeJSON)
	}

	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if err := relayBody(c.Writer, resp.Body); err != nil {
		// status is committed; the client sees a short body
		s.logger.Warn("Proxy relay of %s interrupted: %v", c.Request.URL.Path, err)
	}
}

// relayBody copies src to w, flushing after every read so streaming Ollama
// endpoints (pull, push, create) reach the client as they progress.
func relayBody(w gin.ResponseWriter, src io.Reader) error {
	buf := make([]byte, proxyBufferSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			w.Flush()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
