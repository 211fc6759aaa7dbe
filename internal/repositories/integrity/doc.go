// Package integrity keeps the single current content hash of the vault.
package integrity
