// Package pairing implements the node-side TowerLink pairing engine.
//
// # Overview
//
// Pairing is how a battery-powered field node establishes a durable binding
// with a farm coordinator over the connectionless radio link, with no prior
// shared secret beyond physical proximity and operator approval. The node
// broadcasts advertisements, the coordinator's operator approves the node,
// and an offer/accept/confirm exchange assigns the node its binding
// identifier and optional link credentials.
//
// # State machine
//
// The engine is a single finite state machine per device:
//
//	INIT -> UNPAIRED -> ADVERTISING -> OFFER_RECEIVED -> WAITING_CONFIRM -> BOUND -> OPERATIONAL
//
// REJECTED, TIMEOUT, CANCELLED, NONCE_MISMATCH, TOKEN_MISMATCH and
// STORAGE_ERROR are not states but completion results; every one of them
// routes the engine back to UNPAIRED with all pending binding data cleared,
// so a failed attempt can never leak state into the next one.
//
// # Execution model
//
// The engine is single-threaded and non-blocking. Call Tick frequently
// (every 10-50ms) from one control loop, and deliver inbound frames via
// HandleFrame (or the typed handlers) from that same loop - or serialize
// externally if the transport delivers on another goroutine. Every entry
// point takes the current time explicitly, so timeout behavior is
// deterministic under test with a synthetic clock.
//
// # Replay defense
//
// An offer is only accepted if it echoes the engine's *current* nonce. The
// nonce rotates every wire.NonceRotation while advertising, so a delayed or
// forged offer referencing an earlier nonce is provably stale and rejected
// with NONCE_MISMATCH.
package pairing
