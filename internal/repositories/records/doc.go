// Package records stores the journal entities of the encrypted vault as
// JSON documents in a single SQLite table keyed by (store, id).
//
// Index lookups evaluate json_extract over the document and compare the
// result as text, matching the string form the plain store indexes by.
package records
