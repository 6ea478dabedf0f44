package log

import (
	"time"
)

// Event represents a pairing protocol log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Role indicates which side of the protocol emitted the event.
	Role Role `cbor:"2,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"3,keyasint"`

	// Direction indicates message flow. Only meaningful for
	// CategoryMessage and CategoryDrop events.
	Direction Direction `cbor:"4,keyasint,omitempty"`

	// Peer is the remote hardware address, formatted, when known.
	Peer string `cbor:"5,keyasint,omitempty"`

	// MsgType is the wire discriminator byte for message events.
	MsgType uint8 `cbor:"6,keyasint,omitempty"`

	// OldState and NewState describe a state change.
	OldState string `cbor:"7,keyasint,omitempty"`
	NewState string `cbor:"8,keyasint,omitempty"`

	// Reason carries the protocol reason or completion result name.
	Reason string `cbor:"9,keyasint,omitempty"`

	// Detail is free-form context (why a frame was dropped, etc.).
	Detail string `cbor:"10,keyasint,omitempty"`
}

// Role indicates which side of the pairing protocol emitted an event.
type Role uint8

const (
	// RoleNode is the device-side pairing engine.
	RoleNode Role = 0
	// RoleCoordinator is the coordinator-side discovery/binding engine.
	RoleCoordinator Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleNode:
		return "NODE"
	case RoleCoordinator:
		return "COORDINATOR"
	default:
		return "UNKNOWN"
	}
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a pairing message sent or received.
	CategoryMessage Category = 0
	// CategoryState indicates an engine or entry state change.
	CategoryState Category = 1
	// CategoryDrop indicates a frame or message that was discarded.
	CategoryDrop Category = 2
	// CategoryWindow indicates a permit-join window transition.
	CategoryWindow Category = 3
	// CategoryCompletion indicates a pairing/binding attempt finishing.
	CategoryCompletion Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryDrop:
		return "DROP"
	case CategoryWindow:
		return "WINDOW"
	case CategoryCompletion:
		return "COMPLETION"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent builds a CategoryMessage event.
func MessageEvent(role Role, dir Direction, peer string, msgType uint8) Event {
	return Event{
		Timestamp: time.Now(),
		Role:      role,
		Category:  CategoryMessage,
		Direction: dir,
		Peer:      peer,
		MsgType:   msgType,
	}
}

// StateEvent builds a CategoryState event.
func StateEvent(role Role, peer, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Role:      role,
		Category:  CategoryState,
		Peer:      peer,
		OldState:  oldState,
		NewState:  newState,
		Reason:    reason,
	}
}

// DropEvent builds a CategoryDrop event.
func DropEvent(role Role, peer string, msgType uint8, detail string) Event {
	return Event{
		Timestamp: time.Now(),
		Role:      role,
		Category:  CategoryDrop,
		Direction: DirectionIn,
		Peer:      peer,
		MsgType:   msgType,
		Detail:    detail,
	}
}

// WindowEvent builds a CategoryWindow event. Detail is "open" or "closed"
// plus any context, Reason says why the window transitioned.
func WindowEvent(role Role, detail, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Role:      role,
		Category:  CategoryWindow,
		Detail:    detail,
		Reason:    reason,
	}
}

// CompletionEvent builds a CategoryCompletion event.
func CompletionEvent(role Role, peer, result string) Event {
	return Event{
		Timestamp: time.Now(),
		Role:      role,
		Category:  CategoryCompletion,
		Peer:      peer,
		Reason:    result,
	}
}
