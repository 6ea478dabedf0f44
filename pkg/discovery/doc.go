/*
Package discovery implements the coordinator side of the pairing protocol:
a bounded table of advertising nodes, the operator-controlled permit-join
window, and the offer/accept/confirm binding exchange.

# Discovery table

Advertisements received while the permit-join window is open populate a
table bounded at 32 entries. Each entry tracks the node's identity, its
current nonce and sequence counter, and a per-entry binding state. Entries
that stop refreshing expire after the discovery TTL; bound entries are
exempt. A retransmitted advertisement (same nonce and sequence) is ignored
entirely; only a fresh frame keeps an entry alive.

# Permit-join window

The window defaults to 60 seconds and is capped at 5 minutes. While it is
closed, advertisements are dropped. Closing the window, whether by the
operator or by expiry, clears every entry that is not bound.

# Binding

The operator approves an entry with BeginOffer, which allocates a binding
identifier, generates a fresh correlation token and unicasts an Offer
echoing the node's current nonce. A matching Accept moves the entry to
BINDING and triggers the Confirm carrying the optional per-link key; the
binding is then committed to the registry and the entry becomes BOUND. An
offer that draws no Accept within the binding timeout fails the entry.

# Execution model

Like the node engine, everything is single-threaded and clock-injected:
the caller pumps Tick and the Handle* methods from one goroutine and
passes the current time explicitly.
*/
package discovery
