package core

// Default config constants
const (
	DefaultPort             = "8080"
	DefaultGinMode          = "release"
	DefaultModelsConfigPath = "models.json"
	DefaultStaticDir        = "web"
	CORSMaxAge              = "86400"
)

// Content type and header constants
const (
	ContentTypeEventStream = "text/event-stream"
	ContentTypeJSON        = "application/json"
	ContentTypeNDJSON      = "application/x-ndjson"
	CacheControlNoCache    = "no-cache"
	ConnectionKeepAlive    = "keep-alive"
	HeaderContentType      = "Content-Type"
	HeaderAuthorization    = "Authorization"
	HeaderAccept           = "Accept"
	HeaderCacheControl     = "Cache-Control"
	HeaderConnection       = "Connection"
	HeaderXAPIKey          = "x-api-key"
	AuthBearerPrefix       = "Bearer "
)

// SSE stream constants
const (
	StreamChunkPrefix = "data: "
)

// Role constants
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Route constants
const (
	RouteAPIPrefix = "/api/"
	RouteLogin     = "/login"
	RouteMain      = "/main"
	RouteChatPage  = "/chat"
)

// Login account defaults
const (
	DefaultLoginUser     = "admin"
	DefaultLoginPassword = "admin123"
	DefaultLoginName     = "Administrator"
)

// Session cookie constants
const (
	SessionCookieName = "dify2ollama_session"
	ContextKeyUser    = "username"
	ContextKeyClient  = "client"
)

// Page file constants
const (
	PageMainFile = "llmreadpaper.html"
	PageChatFile = "index.html"
)
