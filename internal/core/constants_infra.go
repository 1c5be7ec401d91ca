package core

import "time"

// HTTP client config constants
const (
	HTTPMaxIdleConns          = 500
	HTTPMaxIdleConnsPerHost   = 100
	HTTPMaxConnsPerHost       = 200
	HTTPIdleConnTimeout       = 600 * time.Second
	HTTPTLSHandshakeTimeout   = 30 * time.Second
	HTTPExpectContinueTimeout = 5 * time.Second
)

// Upstream timeout constants
const (
	UpstreamConnectTimeout = 30 * time.Second
	UpstreamStreamTimeout  = 5 * time.Minute
	UpstreamReadChunkSize  = 4096
	MaxEventLineSize       = 1024 * 1024
)

// Passthrough proxy timeout constants
const (
	ProxyPostTimeout    = 120 * time.Second
	ProxyDefaultTimeout = 30 * time.Second
)

// Cache config constants
const (
	CacheDefaultCapacity = 1000
	CacheCleanupInterval = 5 * time.Minute
)

// Session constants
const (
	SessionDefaultTTL    = 24 * time.Hour
	SessionRedisPrefix   = "dify2ollama:session:"
	SessionCacheCapacity = 10000
	RedisOpTimeout       = 3 * time.Second
)

// Stats and monitoring constants
const (
	StatsFilePath     = "stats.json"
	StatsRedisKey     = "dify2ollama:stats"
	MinSaveInterval   = 5 * time.Second
	HistoryBufferSize = 1000
)

// Server limits
const (
	MaxErrorBodyPreview = 512
	MaxPromptLogLength  = 80
	DefaultRateLimit    = 120
	ShutdownGracePeriod = 30 * time.Second
	ServerReadTimeout   = 30 * time.Second
	ServerHeaderTimeout = 10 * time.Second
	ServerWriteTimeout  = 10 * time.Minute
)

// Logging config constants
const (
	MaxDebugFilePathLength = 260
)

// File permission constants
const (
	FilePermissionReadWrite = 0644
)

// Time format constants
const (
	TimeFormatDateTime = "2006-01-02 15:04:05"
)
