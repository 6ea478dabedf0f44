// Package wire defines the TowerLink pairing messages and their codec.
//
// # Overview
//
// TowerLink pairing runs over a connectionless radio link (ESP-NOW class:
// broadcast and unicast frames of at most ~250 bytes, no delivery guarantee,
// no ordering). Every pairing exchange uses one of six fixed message types:
//
//	Advertisement  node -> broadcast   "I am unpaired and ready to pair"
//	Offer          coordinator -> node "pair with me, here is your binding id"
//	Accept         node -> coordinator "I accept this offer"
//	Confirm        coordinator -> node "binding complete, here are credentials"
//	Reject         coordinator -> node "pairing denied/cancelled"
//	Abort          node -> coordinator "I am cancelling this attempt"
//
// # Encoding
//
// Messages are CBOR maps with integer keys (RFC 8949). Key 1 is always the
// message type discriminator, so a receiver can dispatch without decoding the
// full payload. Hardware addresses encode as 6-byte CBOR byte strings. All
// encoded messages fit comfortably inside a single radio frame.
//
// # Replay protection
//
// Each Advertisement carries a 32-bit nonce (rotated every NonceRotation) and
// a 16-bit sequence counter. An Offer must echo the advertised nonce; the
// node only accepts an offer echoing its *current* nonce, which bounds the
// validity window of any single advertisement. The Offer also carries a fresh
// offer token correlating the Accept/Confirm/Reject/Abort messages of one
// pairing attempt, preventing cross-talk between concurrent attempts.
package wire
