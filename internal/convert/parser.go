package convert

import (
	"bytes"
	"strings"

	"github.com/bytedance/sonic"

	"dify2ollama/internal/core"
)

// EventParser decodes a backend event stream delivered in arbitrary chunks.
// A trailing partial line is held until the next Feed or until Flush.
// An EventParser is not safe for concurrent use.
type EventParser struct {
	buf     []byte
	skipped int
}

// NewEventParser creates an empty parser.
func NewEventParser() *EventParser {
	return &EventParser{}
}

// Feed consumes one chunk and returns the events completed by it, in order.
func (p *EventParser) Feed(chunk []byte) []core.UpstreamEvent {
	if len(chunk) == 0 {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []core.UpstreamEvent
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		events = p.appendLine(events, p.buf[:idx])
		p.buf = p.buf[idx+1:]
	}

	switch {
	case len(p.buf) > core.MaxEventLineSize:
		// an unterminated line this long is never a valid event
		p.skipped++
		p.buf = nil
	case len(p.buf) == 0:
		p.buf = nil
	}
	return events
}

// Flush treats any buffered remainder as a final line. Call it once the
// backend has closed the stream.
func (p *EventParser) Flush() []core.UpstreamEvent {
	if len(p.buf) == 0 {
		return nil
	}
	events := p.appendLine(nil, p.buf)
	p.buf = nil
	return events
}

// Skipped returns how many candidate lines failed to decode so far.
func (p *EventParser) Skipped() int {
	return p.skipped
}

func (p *EventParser) appendLine(events []core.UpstreamEvent, line []byte) []core.UpstreamEvent {
	ev, ok, malformed := parseLine(string(line))
	if malformed {
		p.skipped++
	}
	if ok {
		events = append(events, ev)
	}
	return events
}

// ParseEvents decodes a complete stream body. It is a pure function of text.
func ParseEvents(text string) []core.UpstreamEvent {
	var events []core.UpstreamEvent
	for _, line := range strings.Split(text, "\n") {
		if ev, ok, _ := parseLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// parseLine decodes one line. ok is true only for a message event that carries
// an answer; malformed is true when a data line held invalid JSON.
func parseLine(line string) (ev core.UpstreamEvent, ok bool, malformed bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, core.StreamChunkPrefix) {
		return ev, false, false
	}

	var data core.DifyStreamEvent
	if err := sonic.UnmarshalString(strings.TrimPrefix(line, core.StreamChunkPrefix), &data); err != nil {
		return ev, false, true
	}
	if data.Event != core.DifyEventMessage || data.Answer == nil {
		return ev, false, false
	}
	return core.UpstreamEvent{Kind: data.Event, Answer: *data.Answer}, true, false
}
