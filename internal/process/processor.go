package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"dify2ollama/internal/config"
	"dify2ollama/internal/convert"
	"dify2ollama/internal/core"
	"dify2ollama/internal/util"
)

// ProcessorConfig configures the backend client.
type ProcessorConfig struct {
	DifyBaseURL   string
	APIKey        string
	StreamTimeout time.Duration
	HTTPClient    *http.Client
	Metrics       core.MetricsCollector
	Logger        core.Logger
}

// RequestProcessor opens streaming chat calls against the backend.
type RequestProcessor struct {
	chatURL       string
	apiKey        string
	streamTimeout time.Duration
	httpClient    *http.Client
	metrics       core.MetricsCollector
	logger        core.Logger
}

// NewRequestProcessor creates a new request processor
func NewRequestProcessor(cfg ProcessorConfig) *RequestProcessor {
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = core.UpstreamStreamTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &core.NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(config.DefaultHTTPClientSettings())
	}
	return &RequestProcessor{
		chatURL:       util.JoinURL(cfg.DifyBaseURL, core.DifyChatPath),
		apiKey:        cfg.APIKey,
		streamTimeout: cfg.StreamTimeout,
		httpClient:    cfg.HTTPClient,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// NewHTTPClient builds the pooled client shared by upstream and proxy calls.
// It sets no overall timeout: streams are bounded per request by context.
func NewHTTPClient(settings config.HTTPClientSettings) *http.Client {
	dialer := &net.Dialer{
		Timeout:   settings.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          settings.MaxIdleConns,
		MaxIdleConnsPerHost:   settings.MaxIdleConnsPerHost,
		MaxConnsPerHost:       settings.MaxConnsPerHost,
		IdleConnTimeout:       settings.IdleConnTimeout,
		TLSHandshakeTimeout:   settings.TLSHandshakeTimeout,
		ExpectContinueTimeout: core.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: settings.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport}
}

// ChatURL returns the backend endpoint the processor posts to.
func (p *RequestProcessor) ChatURL() string {
	return p.chatURL
}

// BuildDifyPayload encodes the backend request. Streaming mode is always
// requested; aggregation happens on this side.
func BuildDifyPayload(query, model string) ([]byte, error) {
	payload := core.DifyChatPayload{
		Query:        query,
		Model:        model,
		ResponseMode: core.DifyResponseModeStreaming,
	}
	data, err := util.MarshalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

// OpenStream posts query to the backend and returns its event stream.
// The returned stream must be closed by the caller.
func (p *RequestProcessor) OpenStream(ctx context.Context, query, model string) (*UpstreamStream, error) {
	start := time.Now()

	payloadBytes, err := BuildDifyPayload(query, model)
	if err != nil {
		return nil, core.ErrUnexpected(err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.streamTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(payloadBytes))
	if err != nil {
		cancel()
		return nil, core.ErrUnexpected(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set(core.HeaderAccept, core.ContentTypeEventStream)
	req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	req.Header.Set(core.HeaderCacheControl, core.CacheControlNoCache)
	if p.apiKey != "" {
		req.Header.Set(core.HeaderAuthorization, core.AuthBearerPrefix+p.apiKey)
	}

	p.logger.Debug("Backend request: model=%s, query=%q, size=%d",
		model, util.TruncateString(query, core.MaxPromptLogLength, 0, "..."), len(payloadBytes))

	resp, err := p.httpClient.Do(req) //nolint:gosec // target is the configured backend URL
	if err != nil {
		appErr := ClassifyError(ctx, err, "Cannot connect to backend")
		cancel()
		p.metrics.RecordUpstreamRequest(outcomeOf(appErr), time.Since(start))
		p.logger.Warn("Backend call failed: %v", err)
		return nil, appErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, core.MaxErrorBodyPreview))
		_ = resp.Body.Close()
		cancel()
		p.metrics.RecordUpstreamRequest(core.UpstreamOutcomeStatus, time.Since(start))
		p.logger.Error("Backend error: status=%d, body=%s", resp.StatusCode, string(preview))
		return nil, core.ErrUpstreamConnection(
			fmt.Sprintf("Backend returned status %d", resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, preview),
		)
	}

	p.logger.Debug("Backend response status: %d", resp.StatusCode)
	return &UpstreamStream{
		ctx:     ctx,
		body:    resp.Body,
		cancel:  cancel,
		parser:  convert.NewEventParser(),
		buf:     make([]byte, core.UpstreamReadChunkSize),
		start:   start,
		outcome: core.UpstreamOutcomeOK,
		metrics: p.metrics,
	}, nil
}

// UpstreamStream is an open backend response body.
type UpstreamStream struct {
	ctx       context.Context
	body      io.ReadCloser
	cancel    context.CancelFunc
	parser    *convert.EventParser
	buf       []byte
	pending   error
	start     time.Time
	outcome   string
	metrics   core.MetricsCollector
	closeOnce sync.Once
}

// Next returns the next raw chunk in arrival order, then io.EOF. The returned
// slice is only valid until the following call.
func (s *UpstreamStream) Next() ([]byte, error) {
	if s.pending != nil {
		return nil, s.pending
	}
	for {
		n, err := s.body.Read(s.buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.pending = io.EOF
			} else {
				appErr := ClassifyError(s.ctx, err, "Backend stream interrupted")
				s.outcome = outcomeOf(appErr)
				s.pending = appErr
			}
		}
		if n > 0 {
			return s.buf[:n], nil
		}
		if s.pending != nil {
			return nil, s.pending
		}
	}
}

// Consume parses the stream and calls fn for every event in order. It returns
// nil once the backend closes the stream, or the first error from reading or fn.
func (s *UpstreamStream) Consume(fn func(core.UpstreamEvent) error) error {
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			for _, ev := range s.parser.Flush() {
				if err := fn(ev); err != nil {
					return err
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
		for _, ev := range s.parser.Feed(chunk) {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
}

// Skipped returns how many malformed event lines were dropped so far.
func (s *UpstreamStream) Skipped() int {
	return s.parser.Skipped()
}

// Close releases the body and the per-request deadline. It is safe to call
// more than once.
func (s *UpstreamStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.cancel()
		s.metrics.RecordUpstreamRequest(s.outcome, time.Since(s.start))
		s.metrics.RecordDecodeSkipped(s.parser.Skipped())
	})
	return err
}

// ClassifyError maps transport failures onto the gateway error taxonomy.
// connectMessage is used for failures that are neither timeouts nor cancellations.
func ClassifyError(ctx context.Context, err error, connectMessage string) *core.AppError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return core.ErrUpstreamTimeout(err)
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return core.ErrCanceled(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrUpstreamTimeout(err)
	}
	return core.ErrUpstreamConnection(connectMessage, err)
}

func outcomeOf(err *core.AppError) string {
	switch err.Kind {
	case core.KindUpstreamTimeout:
		return core.UpstreamOutcomeTimeout
	case core.KindCanceled:
		return core.UpstreamOutcomeCanceled
	default:
		return core.UpstreamOutcomeConnection
	}
}
