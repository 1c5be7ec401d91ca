package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/convert"
	"dify2ollama/internal/core"
	"dify2ollama/internal/process"
)

// countingSink forwards chunks and counts them for the stream metrics.
type countingSink struct {
	next    convert.ChunkSink
	metrics core.MetricsCollector
}

func (s *countingSink) WriteChunk(chunk core.ChatChunk) error {
	if err := s.next.WriteChunk(chunk); err != nil {
		return err
	}
	s.metrics.RecordStreamChunk()
	return nil
}

// streamChatResponse re-emits backend events as NDJSON chat chunks as they
// arrive. The status is committed with the first byte, so a later failure can
// only end the stream.
func (s *Server) streamChatResponse(c *gin.Context, stream *process.UpstreamStream, model string, startTime time.Time) {
	setNDJSONHeaders(c)
	c.Status(http.StatusOK)

	writer := convert.NewNDJSONWriter(c.Writer, c.Writer.Flush)
	streamer := convert.NewStreamer(model, &countingSink{next: writer, metrics: s.metricsService})

	err := stream.Consume(streamer.Emit)
	if err != nil {
		clientGone := core.IsKind(err, core.KindCanceled) || c.Request.Context().Err() != nil
		if clientGone {
			s.logger.Debug("Chat stream canceled by client after %d chunks", streamer.Emitted())
		} else {
			s.logger.Warn("Chat stream interrupted after %d chunks: %v", streamer.Emitted(), err)
			// best effort: let well-behaved clients see an end of stream
			if finishErr := streamer.Finish(); finishErr != nil {
				s.logger.Debug("Failed to write terminal chunk: %v", finishErr)
			}
		}
		s.recordRequestResult(false, startTime, model, clientLabel(c))
		return
	}

	if err := streamer.Finish(); err != nil {
		s.logger.Warn("Failed to write terminal chunk: %v", err)
		s.recordRequestResult(false, startTime, model, clientLabel(c))
		return
	}

	s.logger.Debug("Chat stream done: model=%s, chunks=%d", model, streamer.Emitted())
	s.recordRequestResult(true, startTime, model, clientLabel(c))
}

// aggregateChatResponse answers a chat call that asked for stream=false with
// a single record.
func (s *Server) aggregateChatResponse(c *gin.Context, stream *process.UpstreamStream, model string, startTime time.Time) {
	var agg convert.Aggregator
	if err := stream.Consume(func(ev core.UpstreamEvent) error {
		agg.Add(ev)
		return nil
	}); err != nil {
		s.fail(c, startTime, model, err)
		return
	}

	s.recordRequestResult(true, startTime, model, clientLabel(c))
	c.JSON(http.StatusOK, agg.ChatResult(model, time.Now()))
}
