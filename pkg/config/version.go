package config

// Set at build time via -ldflags "-X github.com/Sternrassler/plantwatch/pkg/config.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
