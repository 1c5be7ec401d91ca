package convert

import (
	"sort"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dify2ollama/internal/core"
)

func messageLine(answer string) string {
	data, _ := sonic.Marshal(map[string]string{"event": "message", "answer": answer})
	return "data: " + string(data) + "\n"
}

func answers(events []core.UpstreamEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Answer)
	}
	return out
}

func TestParseEvents(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"空输入", "", []string{}},
		{"无data行", "event: ping\n: keep-alive\n\n", []string{}},
		{"单个消息", `data: {"event":"message","answer":"hi"}`, []string{"hi"}},
		{"多个消息", "data: {\"event\":\"message\",\"answer\":\"Hel\"}\ndata: {\"event\":\"message\",\"answer\":\"lo\"}\ndata: {\"event\":\"other\"}\n", []string{"Hel", "lo"}},
		{"坏JSON被跳过", "data: {bad json\ndata: {\"event\":\"message\",\"answer\":\"ok\"}", []string{"ok"}},
		{"整块坏数据", "data: {{{{{{{{{{{{{{{{{{{{{{{{{{{{{{", []string{}},
		{"缺少answer字段", `data: {"event":"message"}`, []string{}},
		{"其他事件忽略", `data: {"event":"message_end","answer":"x"}`, []string{}},
		{"空answer保留", `data: {"event":"message","answer":""}`, []string{""}},
		{"CRLF换行", "data: {\"event\":\"message\",\"answer\":\"a\"}\r\ndata: {\"event\":\"message\",\"answer\":\"b\"}\r\n", []string{"a", "b"}},
		{"前缀不带空格不算", `data:{"event":"message","answer":"x"}`, []string{}},
		{"行首空格不算", `   data: {"event":"message","answer":"x"}`, []string{}},
		{"行首制表符不算", "\tdata: {\"event\":\"message\",\"answer\":\"x\"}", []string{}},
		{"JSON后空白可接受", "data: {\"event\":\"message\",\"answer\":\"a\"}  \r\n", []string{"a"}},
		{"data为null", "data: null", []string{}},
		{"data为数组", "data: [1,2,3]", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, answers(ParseEvents(tt.input)))
		})
	}
}

func TestParseEvents_KindIsMessage(t *testing.T) {
	events := ParseEvents(messageLine("x"))
	require.Len(t, events, 1)
	assert.Equal(t, core.DifyEventMessage, events[0].Kind)
}

func TestEventParser_SplitAcrossChunks(t *testing.T) {
	p := NewEventParser()
	line := messageLine("你好，世界")

	// split in the middle of the JSON object and inside a multi-byte rune
	cut := strings.Index(line, "世") + 1
	assert.Empty(t, p.Feed([]byte(line[:cut])))
	events := p.Feed([]byte(line[cut:]))
	assert.Equal(t, []string{"你好，世界"}, answers(events))
	assert.Empty(t, p.Flush())
}

func TestEventParser_MultipleEventsPerChunk(t *testing.T) {
	p := NewEventParser()
	events := p.Feed([]byte(messageLine("a") + messageLine("b") + `data: {"event":"mess`))
	assert.Equal(t, []string{"a", "b"}, answers(events))

	events = p.Feed([]byte(`age","answer":"c"}`))
	assert.Empty(t, events, "line not terminated yet")

	assert.Equal(t, []string{"c"}, answers(p.Flush()))
}

func TestEventParser_IndentedLinesIgnored(t *testing.T) {
	p := NewEventParser()
	events := p.Feed([]byte(" " + messageLine("no") + messageLine("yes")))
	events = append(events, p.Flush()...)
	assert.Equal(t, []string{"yes"}, answers(events))
	assert.Zero(t, p.Skipped(), "非 data 行不计入解码失败")
}

func TestEventParser_SkippedCount(t *testing.T) {
	p := NewEventParser()
	p.Feed([]byte("data: {bad\ndata: also bad\nnot a data line\n"))
	p.Feed([]byte(messageLine("ok")))
	p.Flush()
	assert.Equal(t, 2, p.Skipped())
}

func TestEventParser_OversizedPartialLineDropped(t *testing.T) {
	p := NewEventParser()
	huge := "data: " + strings.Repeat("x", core.MaxEventLineSize+1)
	assert.Empty(t, p.Feed([]byte(huge)))
	assert.Equal(t, 1, p.Skipped())

	// the tail of the dropped line is not a data line and the stream recovers
	events := p.Feed([]byte("xxxx\n" + messageLine("after")))
	assert.Equal(t, []string{"after"}, answers(events))
}

func TestEventParser_EmptyFeedAndFlush(t *testing.T) {
	p := NewEventParser()
	assert.Nil(t, p.Feed(nil))
	assert.Nil(t, p.Feed([]byte{}))
	assert.Nil(t, p.Flush())
	assert.Equal(t, 0, p.Skipped())
}

// Feeding any chunking of a stream yields the same events as parsing it whole.
func TestProperty_ChunkingDoesNotChangeEvents(t *testing.T) {
	noise := []string{
		"data: {bad json\n",
		"event: ping\n",
		"\n",
		"data: {\"event\":\"workflow_started\"}\n",
		": comment\n",
	}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "events")
		var sb strings.Builder
		expected := make([]string, 0, n)
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, "noise") {
				sb.WriteString(noise[rapid.IntRange(0, len(noise)-1).Draw(t, "noiseIndex")])
			}
			answer := rapid.String().Draw(t, "answer")
			expected = append(expected, answer)
			sb.WriteString(messageLine(answer))
		}
		text := sb.String()

		cuts := rapid.SliceOfN(rapid.IntRange(0, len(text)), 0, 10).Draw(t, "cuts")
		sort.Ints(cuts)

		p := NewEventParser()
		var got []core.UpstreamEvent
		prev := 0
		for _, c := range cuts {
			got = append(got, p.Feed([]byte(text[prev:c]))...)
			prev = c
		}
		got = append(got, p.Feed([]byte(text[prev:]))...)
		got = append(got, p.Flush()...)

		whole := answers(ParseEvents(text))
		if len(got) != len(whole) || len(whole) != len(expected) {
			t.Fatalf("event count mismatch: chunked=%d whole=%d expected=%d", len(got), len(whole), len(expected))
		}
		for i := range expected {
			if got[i].Answer != expected[i] || whole[i] != expected[i] {
				t.Fatalf("event %d: chunked=%q whole=%q expected=%q", i, got[i].Answer, whole[i], expected[i])
			}
		}
	})
}

// Parsing is deterministic for arbitrary input, including garbage.
func TestProperty_ParseEventsIsPure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		first := answers(ParseEvents(text))
		second := answers(ParseEvents(text))
		if len(first) != len(second) {
			t.Fatalf("non-deterministic length: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("non-deterministic event %d", i)
			}
		}
	})
}
