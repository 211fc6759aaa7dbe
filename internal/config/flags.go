package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/mindvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Arguments the set does not define, such as the config file flags, are
// skipped by flagx.Parse. It panics on malformed values.
func parseFlags(cfg *Config) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.Encryption, "e", cfg.Encryption, "encryption: auto, on or off")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogBackend, "b", cfg.LogBackend, "log backend (slog or zap)")
	fs.DurationVar(&cfg.OpenTimeout, "t", cfg.OpenTimeout, "store open timeout")

	if err := flagx.Parse(fs, os.Args[1:]); err != nil {
		panic(err)
	}
}
