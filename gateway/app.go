// Package gateway defines the synchronous request/response contract that
// zibai hosts: an application receives an environment and a start-response
// callback, and returns a lazy, once-only sequence of response body chunks.
package gateway

import "io"

// Header is a single response or request header as an ordered (name, value)
// pair. Names are preserved in the case the application supplied.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered sequence of header fields.
type Headers []Header

// Get returns the value of the first header matching name, case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if equalFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ExcInfo carries the error that justifies a repeat call to StartResponse
// from within an error-recovery path, mirroring the WSGI exc_info triple.
type ExcInfo struct {
	Err error
}

// StartResponseFunc begins the response. It must be called exactly once
// before the first non-empty body chunk is produced. A second call is only
// permitted before any chunk is emitted, and only when exc_info is supplied
// to replace a prior call made from an error path; any other repeat call
// returns an error which the caller must treat as a protocol-usage fault.
//
// The returned Write func streams bytes directly to the client outside of
// the normal body-iteration path (rarely used; kept for parity with the
// contract's write-callable return value).
type StartResponseFunc func(status string, headers Headers, exc *ExcInfo) (Write, error)

// Write streams raw bytes directly to the client.
type Write func([]byte) (int, error)

// BodyChunks is a finite, lazy, once-only producer of response body chunks.
// Implementations that hold resources (file handles, buffers from a pool)
// should implement io.Closer; the connection handler invokes Close after the
// last chunk or on abort, mirroring the PEP 3333 close() contract.
type BodyChunks interface {
	// Next returns the next chunk. It returns io.EOF (with a nil chunk) when
	// the sequence is exhausted.
	Next() ([]byte, error)
}

// CloseChunks is implemented by a BodyChunks that holds a releasable resource.
type CloseChunks interface {
	BodyChunks
	io.Closer
}

// SliceChunks adapts a pre-built slice of chunks into BodyChunks, for
// applications that already have the whole body in memory.
type SliceChunks struct {
	chunks [][]byte
	pos    int
}

// NewSliceChunks returns a BodyChunks over the given chunks in order.
func NewSliceChunks(chunks ...[]byte) *SliceChunks {
	return &SliceChunks{chunks: chunks}
}

func (s *SliceChunks) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// App is the gateway application contract: given an environment and a
// start-response callback, return the response body as a lazy sequence.
// The application must not retain env past return.
type App func(env *Environ, start StartResponseFunc) (BodyChunks, error)
