package core

// DifyChatPayload is the request body sent to the backend chat endpoint.
type DifyChatPayload struct {
	Query        string `json:"query"`
	Model        string `json:"model"`
	ResponseMode string `json:"response_mode"`
}

// DifyStreamEvent is the JSON object carried by one "data: " line of the backend stream.
// Answer is a pointer so that an absent field can be told apart from an empty one.
type DifyStreamEvent struct {
	Event          string  `json:"event"`
	Answer         *string `json:"answer,omitempty"`
	TaskID         string  `json:"task_id,omitempty"`
	MessageID      string  `json:"message_id,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
}

// UpstreamEvent is one decoded, content-bearing unit of the backend stream.
type UpstreamEvent struct {
	Kind   string
	Answer string
}
