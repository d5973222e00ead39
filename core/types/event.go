package types

// Event is the wire-agnostic representation of a state change: a dotted type
// name plus flat string attributes, so any transport (logs, websockets,
// indexers) can carry it without knowing the concrete payload.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
