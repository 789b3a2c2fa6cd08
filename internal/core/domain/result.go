package domain

import "encoding/json"

// DefaultReason is used when the AI answer carries no reason.
const DefaultReason = "No reason provided"

// Usage holds token counters reported by the AI endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AiOutcome is the raw answer of one AI invocation attempt.
type AiOutcome struct {
	Text  string
	Usage Usage
}

// Contacts are the optional contact channels extracted by the AI.
type Contacts struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Telegram string `json:"telegram,omitempty"`
}

// ValidatedResult is the schema-checked AI answer.
type ValidatedResult struct {
	Matches    bool      `json:"matches"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	FullName   string    `json:"full_name,omitempty"`
	Contacts   *Contacts `json:"contacts,omitempty"`
}

// UnmarshalJSON applies the defaults for absent confidence and reason.
func (r *ValidatedResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Matches    bool      `json:"matches"`
		Confidence *float64  `json:"confidence"`
		Reason     *string   `json:"reason"`
		FullName   string    `json:"full_name"`
		Contacts   *Contacts `json:"contacts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = ValidatedResult{
		Matches:  raw.Matches,
		Reason:   DefaultReason,
		FullName: raw.FullName,
		Contacts: raw.Contacts,
	}
	if raw.Confidence != nil {
		r.Confidence = *raw.Confidence
	}
	if raw.Reason != nil {
		r.Reason = *raw.Reason
	}
	return nil
}

// OutgoingResult is published when an item is processed successfully.
// SourceID travels as the message key and header, never in the body.
type OutgoingResult struct {
	Ref      string
	SourceID string
	Result   *ValidatedResult
}
