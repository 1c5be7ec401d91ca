package convert

import (
	"strings"
	"time"

	"dify2ollama/internal/core"
)

// Aggregator folds message events into one answer for one-shot replies.
type Aggregator struct {
	sb     strings.Builder
	events int
}

// Add appends the answer of a message event. Other kinds are ignored.
func (a *Aggregator) Add(ev core.UpstreamEvent) {
	if ev.Kind != core.DifyEventMessage {
		return
	}
	a.sb.WriteString(ev.Answer)
	a.events++
}

// Text returns the concatenated answer so far.
func (a *Aggregator) Text() string {
	return a.sb.String()
}

// Events returns how many message events were folded in.
func (a *Aggregator) Events() int {
	return a.events
}

// Result builds the generate reply stamped with now.
func (a *Aggregator) Result(model string, now time.Time) core.GenerateResponse {
	return core.GenerateResponse{
		Model:     model,
		CreatedAt: now.Unix(),
		Response:  a.sb.String(),
		Done:      true,
	}
}

// ChatResult builds the non-streaming chat reply stamped with now.
func (a *Aggregator) ChatResult(model string, now time.Time) core.ChatResponse {
	return core.ChatResponse{
		Model:     model,
		CreatedAt: FormatChatTime(now),
		Message:   core.ChatMessage{Role: core.RoleAssistant, Content: a.sb.String()},
		Done:      true,
	}
}

// Aggregate is the pure form of Aggregator over a pre-collected sequence.
func Aggregate(events []core.UpstreamEvent, model string, now time.Time) core.GenerateResponse {
	var a Aggregator
	for _, ev := range events {
		a.Add(ev)
	}
	return a.Result(model, now)
}

// FormatChatTime renders a chat timestamp as RFC 3339 in UTC.
func FormatChatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
