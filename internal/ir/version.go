package ir

// Version constants for the persisted layout and the tool.
const (
	// SchemaVersion is the ledger schema version recorded in the database.
	SchemaVersion = 1

	// ToolVersion is the mbfit release version.
	ToolVersion = "0.1.0"
)
