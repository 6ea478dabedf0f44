// Package persistence provides the credential stores backing the node
// pairing engine: a JSON file store for real deployments and an in-memory
// store for tests and ephemeral nodes.
//
// The file store writes through a temp file and rename, so a crash mid-save
// leaves either the old credentials or the new ones, never a torn file.
package persistence
