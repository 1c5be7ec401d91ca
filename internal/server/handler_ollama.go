package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/convert"
	"dify2ollama/internal/core"
)

func (s *Server) listTags(c *gin.Context) {
	c.JSON(http.StatusOK, core.TagsResponse{Models: s.catalog.List()})
}

func (s *Server) generate(c *gin.Context) {
	startTime := time.Now()
	defer s.withPanicRecovery(c, startTime)()

	var request core.GenerateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, startTime, "", core.ErrValidation("invalid request body"))
		return
	}
	if strings.TrimSpace(request.Prompt) == "" {
		s.fail(c, startTime, request.Model, core.ErrValidation("prompt is required"))
		return
	}

	model, err := s.catalog.Resolve(request.Model)
	if err != nil {
		s.fail(c, startTime, request.Model, err)
		return
	}

	stream, err := s.requestProcessor.OpenStream(c.Request.Context(), request.Prompt, model.Name)
	if err != nil {
		s.fail(c, startTime, model.Name, err)
		return
	}
	defer func() { _ = stream.Close() }()

	var agg convert.Aggregator
	if err := stream.Consume(func(ev core.UpstreamEvent) error {
		agg.Add(ev)
		return nil
	}); err != nil {
		s.fail(c, startTime, model.Name, err)
		return
	}

	s.logger.Debug("Generate done: model=%s, events=%d, chars=%d", model.Name, agg.Events(), len(agg.Text()))
	s.recordRequestResult(true, startTime, model.Name, clientLabel(c))
	c.JSON(http.StatusOK, agg.Result(model.Name, time.Now()))
}

func (s *Server) chat(c *gin.Context) {
	startTime := time.Now()
	defer s.withPanicRecovery(c, startTime)()

	var request core.ChatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.fail(c, startTime, "", core.ErrValidation("invalid request body"))
		return
	}

	query, err := convert.LastUserMessage(request.Messages)
	if err != nil {
		s.fail(c, startTime, request.Model, err)
		return
	}

	model, err := s.catalog.Resolve(request.Model)
	if err != nil {
		s.fail(c, startTime, request.Model, err)
		return
	}

	stream, err := s.requestProcessor.OpenStream(c.Request.Context(), query, model.Name)
	if err != nil {
		s.fail(c, startTime, model.Name, err)
		return
	}
	defer func() { _ = stream.Close() }()

	if request.IsStreaming() {
		s.streamChatResponse(c, stream, model.Name, startTime)
	} else {
		s.aggregateChatResponse(c, stream, model.Name, startTime)
	}
}
