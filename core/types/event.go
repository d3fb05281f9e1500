package types

// Event represents a structured state change emitted by the escrow engine.
// Attributes are flat string pairs so downstream consumers (RPC, indexers)
// can render them without knowing the concrete payload type.
type Event struct {
	Type       string
	Attributes map[string]string
}
