// Package transport implements the session with the monochromator controller: a single TCP
// connection carrying a strict request/response line protocol.
//
// A Session owns at most one socket. Every controller interaction is a round trip made by
// SendAndReceive (or Probe for liveness polls); round trips are serialized by the session, so
// a reply can never be attributed to the wrong request even though the protocol has no
// request identifiers.
//
// Session states:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED
//	CONNECTING   -> DISCONNECTED   (dial failed)
//	CONNECTED    -> DISCONNECTED   (Disconnect)
//	CONNECTED    -> FAULTED        (I/O failure)
//	FAULTED      -> DISCONNECTED   (Reset)
//
// Nothing but Reset leaves FAULTED, and no operation retries on its own.
package transport
