package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"dify2ollama/internal/catalog"
	"dify2ollama/internal/core"
	"dify2ollama/internal/util"
)

// ServerConfig server configuration
type ServerConfig struct {
	Port               string
	GinMode            string
	DifyBaseURL        string
	DifyAPIKey         string
	OllamaBaseURL      string
	ModelsConfigPath   string
	DefaultModel       string
	ConnectTimeout     time.Duration
	StreamTimeout      time.Duration
	AuthEnabled        bool
	Users              []core.UserCredential
	ClientAPIKeys      []string
	SessionTTL         time.Duration
	StaticDir          string
	RedisURL           string
	RateLimit          int
	CORSAllowOrigin    string
	HTTPClientSettings HTTPClientSettings
}

// HTTPClientSettings HTTP client configuration
type HTTPClientSettings struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
}

// DefaultHTTPClientSettings default HTTP client settings
func DefaultHTTPClientSettings() HTTPClientSettings {
	return HTTPClientSettings{
		MaxIdleConns:          core.HTTPMaxIdleConns,
		MaxIdleConnsPerHost:   core.HTTPMaxIdleConnsPerHost,
		MaxConnsPerHost:       core.HTTPMaxConnsPerHost,
		IdleConnTimeout:       core.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   core.HTTPTLSHandshakeTimeout,
		ResponseHeaderTimeout: core.UpstreamConnectTimeout,
		DialTimeout:           core.UpstreamConnectTimeout,
	}
}

// LoadServerConfigFromEnv loads server config from environment variables
func LoadServerConfigFromEnv(logger core.Logger) (ServerConfig, error) {
	connectTimeout := util.GetEnvDuration("UPSTREAM_CONNECT_TIMEOUT", core.UpstreamConnectTimeout)
	httpSettings := DefaultHTTPClientSettings()
	httpSettings.DialTimeout = connectTimeout
	httpSettings.ResponseHeaderTimeout = connectTimeout

	cfg := ServerConfig{
		Port:               util.GetEnvWithDefault("PORT", core.DefaultPort),
		GinMode:            util.GetEnvWithDefault("GIN_MODE", core.DefaultGinMode),
		DifyBaseURL:        util.GetEnvWithDefault("DIFY_BASE_URL", core.DefaultDifyBaseURL),
		DifyAPIKey:         os.Getenv("DIFY_API_KEY"),
		OllamaBaseURL:      envOrDefaultAllowEmpty("OLLAMA_BASE_URL", core.DefaultOllamaBaseURL),
		ModelsConfigPath:   util.GetEnvWithDefault("MODELS_CONFIG", core.DefaultModelsConfigPath),
		DefaultModel:       strings.TrimSpace(os.Getenv("DEFAULT_MODEL")),
		ConnectTimeout:     connectTimeout,
		StreamTimeout:      util.GetEnvDuration("UPSTREAM_STREAM_TIMEOUT", core.UpstreamStreamTimeout),
		AuthEnabled:        util.GetEnvBool("AUTH_ENABLED", true),
		ClientAPIKeys:      util.ParseEnvList(os.Getenv("CLIENT_API_KEYS")),
		SessionTTL:         util.GetEnvDuration("SESSION_TTL", core.SessionDefaultTTL),
		StaticDir:          util.GetEnvWithDefault("STATIC_DIR", core.DefaultStaticDir),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		RateLimit:          util.GetEnvInt("RATE_LIMIT", core.DefaultRateLimit),
		CORSAllowOrigin:    util.GetEnvWithDefault("CORS_ALLOW_ORIGIN", "*"),
		HTTPClientSettings: httpSettings,
	}

	cfg.Users = []core.UserCredential{{
		Username: util.GetEnvWithDefault("LLM_USER", core.DefaultLoginUser),
		Password: util.GetEnvWithDefault("LLM_PASSWORD", core.DefaultLoginPassword),
		Name:     util.GetEnvWithDefault("LLM_USER_NAME", core.DefaultLoginName),
	}}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if len(cfg.ClientAPIKeys) == 0 {
		logger.Info("CLIENT_API_KEYS is empty, API access requires a login session")
	} else {
		logger.Info("Loaded %d client API keys", len(cfg.ClientAPIKeys))
	}
	if !cfg.AuthEnabled {
		logger.Warn("AUTH_ENABLED=false, every route is public")
	}
	if cfg.OllamaBaseURL == "" {
		logger.Info("OLLAMA_BASE_URL is empty, passthrough proxy disabled")
	}

	return cfg, nil
}

// envOrDefaultAllowEmpty returns the default only when key is unset, so an
// explicitly empty value can switch a feature off.
func envOrDefaultAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// Validate checks the values that would otherwise fail late at request time.
func (c ServerConfig) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		return core.ErrInvalidConfig("PORT", fmt.Sprintf("%q is not a valid port", c.Port))
	}
	if err := validateBaseURL(c.DifyBaseURL); err != nil {
		return core.ErrInvalidConfig("DIFY_BASE_URL", err.Error())
	}
	if c.OllamaBaseURL != "" {
		if err := validateBaseURL(c.OllamaBaseURL); err != nil {
			return core.ErrInvalidConfig("OLLAMA_BASE_URL", err.Error())
		}
	}
	if c.ConnectTimeout <= 0 {
		return core.ErrInvalidConfig("UPSTREAM_CONNECT_TIMEOUT", "must be positive")
	}
	if c.StreamTimeout <= 0 {
		return core.ErrInvalidConfig("UPSTREAM_STREAM_TIMEOUT", "must be positive")
	}
	if c.AuthEnabled {
		for _, u := range c.Users {
			if u.Username == "" || u.Password == "" {
				return core.ErrInvalidConfig("LLM_USER", "username and password are required when auth is enabled")
			}
		}
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// LoadCatalog reads the model catalog from path. A missing file yields the
// built-in single-model catalog. defaultModel overrides the file's default.
func LoadCatalog(path, defaultModel string, logger core.Logger) (*catalog.Catalog, error) {
	now := time.Now().UTC()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from config, not user input
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Models config %s not found, serving built-in model %s", path, core.DefaultModel)
		return catalog.New(BuiltinModels(now), pickDefault(defaultModel, "", []string{core.DefaultModel}))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := parseCatalogConfig(path, data)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Models))
	for i := range cfg.Models {
		fillDescriptorDefaults(&cfg.Models[i], now)
		names = append(names, cfg.Models[i].Name)
	}

	c, err := catalog.New(cfg.Models, pickDefault(defaultModel, cfg.Default, names))
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d models from %s (default %s)", c.Len(), path, c.Default())
	return c, nil
}

func parseCatalogConfig(path string, data []byte) (core.CatalogConfig, error) {
	var cfg core.CatalogConfig
	var names []string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			if err := yaml.Unmarshal(data, &names); err != nil {
				return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	default:
		if err := sonic.Unmarshal(data, &cfg); err != nil {
			if err := sonic.Unmarshal(data, &names); err != nil {
				return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	for _, name := range names {
		cfg.Models = append(cfg.Models, core.ModelDescriptor{Name: name})
	}
	return cfg, nil
}

func fillDescriptorDefaults(d *core.ModelDescriptor, now time.Time) {
	if d.ModifiedAt.IsZero() {
		d.ModifiedAt = now
	}
	if d.Digest == "" {
		d.Digest = NameDigest(d.Name)
	}
	if d.Details.Format == "" {
		d.Details.Format = core.DefaultModelFormat
	}
	if d.Details.Family == "" {
		d.Details.Family = core.DefaultModelFamily
	}
}

// pickDefault prefers the explicit override, then the file default, then the
// built-in model name when present, then the first entry.
func pickDefault(override, fromFile string, names []string) string {
	if override != "" {
		return override
	}
	if fromFile != "" {
		return fromFile
	}
	for _, n := range names {
		if n == core.DefaultModel {
			return n
		}
	}
	return ""
}

// NameDigest derives a stable digest for models configured without one.
func NameDigest(name string) string {
	sum := sha256.Sum256([]byte(name))
	return core.CatalogDigestPrefix + hex.EncodeToString(sum[:])
}

// BuiltinModels is the catalog served when no models file exists.
func BuiltinModels(now time.Time) []core.ModelDescriptor {
	return []core.ModelDescriptor{{
		Name:       core.DefaultModel,
		Model:      core.DefaultModel,
		ModifiedAt: now,
		Size:       0,
		Digest:     core.DefaultModelDigest,
		Details: core.ModelDetails{
			Format:   core.DefaultModelFormat,
			Family:   core.DefaultModelFamily,
			Families: []string{core.DefaultModelFamily},
		},
	}}
}
