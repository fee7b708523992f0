package types

// Event is the canonical attribute-bag payload attached to engine events.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
