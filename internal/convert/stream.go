package convert

import (
	"errors"
	"io"
	"time"

	"github.com/bytedance/sonic"

	"dify2ollama/internal/core"
)

// ErrStreamFinished is returned by Emit once the terminal chunk has been written.
var ErrStreamFinished = errors.New("stream already finished")

// ChunkSink receives translated chat chunks in emission order.
type ChunkSink interface {
	WriteChunk(chunk core.ChatChunk) error
}

// Streamer turns message events into chat chunks as they arrive and closes the
// sequence with exactly one done record.
type Streamer struct {
	model    string
	sink     ChunkSink
	now      func() time.Time
	emitted  int
	finished bool
}

// NewStreamer creates a streamer that writes chunks for model to sink.
func NewStreamer(model string, sink ChunkSink) *Streamer {
	return &Streamer{model: model, sink: sink, now: time.Now}
}

// Emit writes one chunk for a message event with a non-empty answer.
func (s *Streamer) Emit(ev core.UpstreamEvent) error {
	if s.finished {
		return ErrStreamFinished
	}
	if ev.Kind != core.DifyEventMessage || ev.Answer == "" {
		return nil
	}
	if err := s.sink.WriteChunk(s.chunk(ev.Answer, false)); err != nil {
		return err
	}
	s.emitted++
	return nil
}

// Finish writes the terminal done record. Later calls are no-ops.
func (s *Streamer) Finish() error {
	if s.finished {
		return nil
	}
	s.finished = true
	return s.sink.WriteChunk(s.chunk("", true))
}

// Emitted returns the number of content chunks written.
func (s *Streamer) Emitted() int {
	return s.emitted
}

// Finished reports whether the terminal record has been attempted.
func (s *Streamer) Finished() bool {
	return s.finished
}

func (s *Streamer) chunk(content string, done bool) core.ChatChunk {
	return core.ChatChunk{
		Model:     s.model,
		CreatedAt: FormatChatTime(s.now()),
		Message:   core.ChatMessage{Role: core.RoleAssistant, Content: content},
		Done:      done,
	}
}

// NDJSONWriter frames chunks as one JSON object per line and flushes after each.
type NDJSONWriter struct {
	w     io.Writer
	flush func()
}

// NewNDJSONWriter wraps w; flush may be nil.
func NewNDJSONWriter(w io.Writer, flush func()) *NDJSONWriter {
	return &NDJSONWriter{w: w, flush: flush}
}

// WriteChunk implements ChunkSink.
func (n *NDJSONWriter) WriteChunk(chunk core.ChatChunk) error {
	data, err := sonic.Marshal(chunk)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := n.w.Write(data); err != nil {
		return err
	}
	if n.flush != nil {
		n.flush()
	}
	return nil
}

// LastUserMessage returns the content of the last message with role user.
func LastUserMessage(messages []core.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", core.ErrValidation("messages must be a non-empty array")
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			return messages[i].Content, nil
		}
	}
	return "", core.ErrValidation("no user message found")
}
