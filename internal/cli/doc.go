// Package cli provides the interactive mindvault shell.
//
// It wires configuration, logging and the storage adapter to a small REPL.
// Typical flow: open the data directory, unlock with the journal password,
// then record moods, manage active values or inspect recovery state.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
