package domain

// MaxPayloadChars is the hard upper bound on WorkItem.Payload, in characters.
const MaxPayloadChars = 100_000

// WorkItem is one inbound unit of work. It is immutable once decoded.
type WorkItem struct {
	Type    string `json:"type"    validate:"notblank"`
	Ref     string `json:"ref"     validate:"notblank"`
	Payload string `json:"payload" validate:"notblank,max=100000"`
}
