// Package framing implements the HTTP/1.1 byte-level parse/serialize state
// machine: it translates bytes to and from a small set of events, enforcing
// RFC 7230 framing rules (Content-Length vs chunked vs close-delimited,
// rejection of ambiguous framing, incomplete-event size caps).
//
// The event set and the split between request-line+headers, body data, and
// end-of-message mirrors the h11 protocol state machine the original Python
// implementation delegates to (see h11.py in the retrieved source); Go has
// no equivalent vetted library in this module's dependency set, so the
// engine is hand-written against RFC 7230 directly, splitting request and
// header lines itself with bufio and strings.
package framing

import "zibai/gateway"

// Kind identifies the shape of an Event.
type Kind int

const (
	// NeedData is never returned to callers of NextEvent: read loops inside
	// the package call the underlying reader again instead. It is kept as a
	// named constant for parity with h11's NEED_DATA event.
	NeedData Kind = iota
	// EventRequest carries a parsed request line and header block.
	EventRequest
	// EventData carries one chunk of request body bytes.
	EventData
	// EventEndOfMessage marks the end of the current request.
	EventEndOfMessage
	// EventPaused means the connection has nothing left to read in this
	// cycle without starting a new one (request fully consumed, keep-alive).
	EventPaused
	// EventConnectionClosed means the peer closed the connection.
	EventConnectionClosed
)

// Event is a single inbound framing event.
type Event struct {
	Kind Kind

	// Populated when Kind == EventRequest.
	Method  string
	Target  string
	Version string // "1.0" or "1.1"
	Headers gateway.Headers

	// Populated when Kind == EventData.
	Data []byte
}

// ProtocolError is a framing violation. PreBody distinguishes an error that
// occurred before any body byte was read (which should be reported to the
// client as 400 or 431 with Connection: close) from one that occurred
// mid-body (which should only abort the connection and log to debug).
type ProtocolError struct {
	Status  int // 400 or 431; 0 if not applicable (mid-body)
	Message string
	PreBody bool
}

func (e *ProtocolError) Error() string { return e.Message }

func newPreBodyError(status int, msg string) *ProtocolError {
	return &ProtocolError{Status: status, Message: msg, PreBody: true}
}

func newMidBodyError(msg string) *ProtocolError {
	return &ProtocolError{Message: msg, PreBody: false}
}
