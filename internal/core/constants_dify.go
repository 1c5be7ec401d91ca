package core

// Backend endpoint constants
const (
	DefaultDifyBaseURL   = "http://127.0.0.1:1234"
	DefaultOllamaBaseURL = "http://127.0.0.1:11434"
	DifyChatPath         = "/chat"
)

// Backend stream constants
const (
	DifyEventMessage          = "message"
	DifyResponseModeStreaming = "streaming"
)

// Catalog constants
const (
	DefaultModel        = "dify1"
	DefaultModelDigest  = "sha256:simulated"
	DefaultModelFormat  = "dify"
	DefaultModelFamily  = "dify"
	CatalogDigestPrefix = "sha256:"
)

// Upstream outcome labels used by metrics
const (
	UpstreamOutcomeOK         = "ok"
	UpstreamOutcomeConnection = "connection_error"
	UpstreamOutcomeStatus     = "status_error"
	UpstreamOutcomeTimeout    = "timeout"
	UpstreamOutcomeCanceled   = "canceled"
)
