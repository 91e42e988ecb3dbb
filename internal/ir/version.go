package ir

// Version constants for the IR schema and the rewriting pass.
const (
	// IRVersion is the module IR schema version.
	IRVersion = "1"

	// PassVersion is the jobweave pass version recorded with every run.
	PassVersion = "0.3.0"
)
