package core

import "time"

// ModelDetails is the capability record attached to a catalog model.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model" yaml:"parent_model"`
	Format            string   `json:"format" yaml:"format"`
	Family            string   `json:"family" yaml:"family"`
	Families          []string `json:"families" yaml:"families"`
	ParameterSize     string   `json:"parameter_size" yaml:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level" yaml:"quantization_level"`
}

// ModelDescriptor identifies a servable model in the Ollama tags listing.
type ModelDescriptor struct {
	Name       string       `json:"name" yaml:"name"`
	Model      string       `json:"model" yaml:"model"`
	ModifiedAt time.Time    `json:"modified_at" yaml:"modified_at"`
	Size       int64        `json:"size" yaml:"size"`
	Digest     string       `json:"digest" yaml:"digest"`
	Details    ModelDetails `json:"details" yaml:"details"`
}

// TagsResponse is the body of GET /api/tags.
type TagsResponse struct {
	Models []ModelDescriptor `json:"models"`
}

// GenerateRequest is the body of POST /api/generate. Generate always answers
// with one record, so a client "stream" field is not read.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// GenerateResponse is the one-shot reply of POST /api/generate.
type GenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt int64  `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// ChatMessage is a single message of an Ollama chat exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   *bool         `json:"stream,omitempty"`
}

// IsStreaming reports whether the client asked for NDJSON output (the default).
func (r *ChatRequest) IsStreaming() bool {
	return r.Stream == nil || *r.Stream
}

// ChatChunk is one NDJSON record of a streamed chat reply.
type ChatChunk struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   ChatMessage `json:"message"`
	Done      bool        `json:"done"`
}

// ChatResponse is the aggregated chat reply used when stream is false.
type ChatResponse = ChatChunk
