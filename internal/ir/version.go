package ir

// Version constants for the lowering format and engine.
const (
	// LoweringVersion is the canonical lowering schema version.
	// Bump together with the hash domains when the lowering changes.
	LoweringVersion = "1"

	// EngineVersion is the invar engine version.
	EngineVersion = "0.1.0"
)
