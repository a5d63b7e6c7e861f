package ir

// Version constants for encodings and the engine.
const (
	// FormatVersion is the version of state and operation encodings.
	FormatVersion = "1"

	// EngineVersion is the concord engine version.
	EngineVersion = "0.1.0"
)
