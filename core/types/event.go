package types

// Event represents a typed event emitted during ledger state transitions. The
// attribute map forms the persisted audit trail consumed by indexers and the
// UI.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
