package server

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/core"
	"dify2ollama/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

const loginTemplate = "login.html"

func loadTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// safeNext keeps only same-site relative redirect targets.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}

func (s *Server) index(c *gin.Context) {
	if !s.config.AuthEnabled {
		c.Redirect(http.StatusFound, core.RouteMain)
		return
	}
	sess, err := s.currentSession(c)
	if err != nil {
		s.logger.Warn("Session lookup failed: %v", err)
	}
	if sess != nil {
		c.Redirect(http.StatusFound, core.RouteMain)
		return
	}
	c.Redirect(http.StatusFound, core.RouteLogin)
}

func (s *Server) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, loginTemplate, gin.H{"next": safeNext(c.Query("next"))})
}

func (s *Server) login(c *gin.Context) {
	next := safeNext(c.DefaultPostForm("next", c.Query("next")))
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")

	sess, err := s.sessions.Login(c.Request.Context(), username, password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		s.logger.Info("Failed login for user %q from %s", username, c.ClientIP())
		c.HTML(http.StatusUnauthorized, loginTemplate, gin.H{
			"next":  next,
			"error": "用户名或密码错误",
		})
		return
	}
	if err != nil {
		s.logger.Error("Login failed: %v", err)
		respondWithError(c, core.ErrUnexpected(err))
		return
	}

	s.logger.Info("User %s logged in", sess.Username)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(core.SessionCookieName, sess.ID, int(s.sessions.TTL().Seconds()), "/", "", c.Request.TLS != nil, true)

	if next == "" {
		next = core.RouteMain
	}
	c.Redirect(http.StatusFound, next)
}

func (s *Server) logout(c *gin.Context) {
	if id, err := c.Cookie(core.SessionCookieName); err == nil && id != "" {
		if err := s.sessions.Logout(c.Request.Context(), id); err != nil {
			s.logger.Warn("Failed to delete session: %v", err)
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(core.SessionCookieName, "", -1, "/", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, core.RouteLogin)
}

// servePage returns a handler that sends one file from the static directory.
func (s *Server) servePage(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := filepath.Join(s.config.StaticDir, name)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
			return
		}
		c.File(path)
	}
}
