package types

// Event is the wire representation of a state transition notification. The
// attribute map carries decimal amounts and bech32 principals as strings so
// downstream consumers never need to understand internal types.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
