// Package audit persists the append-only audit log of the vault. The table
// rejects UPDATE and DELETE through triggers, so the repository only offers
// Append and List.
package audit
