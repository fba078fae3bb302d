package canlog

import fsadapter "github.com/bft-labs/canlog/internal/adapters/fs"

// Version information for the canlog library.
const (
	// Version is the current library version.
	Version = "0.3.0"

	// LogFormat is the format tag written into session log headers.
	LogFormat = fsadapter.LogFormat
)
