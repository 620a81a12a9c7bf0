package ir

// Version constants for the rule-set schema and engine.
const (
	// SchemaVersion is the rule-set schema version.
	SchemaVersion = "1"

	// EngineVersion is the KERN engine version.
	EngineVersion = "0.1.0"
)
