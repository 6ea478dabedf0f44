// Package log provides structured protocol logging for TowerLink pairing.
//
// This package defines the Logger interface and Event types for capturing
// pairing-protocol events (messages sent and received, engine state changes,
// dropped frames, permit-join window transitions). It is separate from
// operational logging (slog) - protocol capture provides a machine-readable
// event trace for debugging a pairing session after the fact.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLog = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLog, _ = log.NewFileLogger("/var/log/towerlink/node.tlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLog = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a concatenated stream of CBOR-encoded events with the .tlog
// extension; ReadFile decodes a complete file back into events.
package log
