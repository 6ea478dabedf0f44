// Package radio defines the transport abstraction the pairing engines send
// frames through, plus two implementations: an in-process bus for tests and
// simulation, and a UDP transport for running the protocol across a LAN.
//
// The transport is deliberately thin: fire-and-forget broadcast and unicast
// of a single frame payload, with an asynchronous receive callback carrying
// the source hardware address and a signal-strength estimate. There are no
// retries, no acknowledgments and no ordering guarantees - recovery from
// loss is the pairing protocol's job, not the transport's.
//
// Implementations may deliver received frames on any goroutine; the pairing
// engines are not internally synchronized, so callers must serialize receive
// callbacks with their Tick loop (see the cmd binaries for the pattern).
package radio
