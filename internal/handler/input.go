package handler

import (
	"io"

	"zibai/internal/framing"
)

// Input adapts a framing.Conn's body events into an io.Reader, the Go
// analogue of utils.py's Input class (which buffers DATA events behind a
// read(size) interface). Reading from it may transparently trigger a 100
// Continue emission on first read via framing.Conn.NextEvent, matching
// wsgi.input's documented side effect.
type Input struct {
	engine  *framing.Conn
	buffer  []byte
	hasMore bool
}

// NewInput wraps engine's body-event stream as an io.Reader.
func NewInput(engine *framing.Conn) *Input {
	return &Input{engine: engine, hasMore: true}
}

func (in *Input) fill() error {
	if !in.hasMore {
		return nil
	}
	ev, err := in.engine.NextEvent()
	if err != nil {
		return err
	}
	switch ev.Kind {
	case framing.EventData:
		in.buffer = append(in.buffer, ev.Data...)
	case framing.EventEndOfMessage, framing.EventPaused:
		in.hasMore = false
	default:
		in.hasMore = false
	}
	return nil
}

// Read implements io.Reader, pulling more body events as needed.
func (in *Input) Read(p []byte) (int, error) {
	for len(in.buffer) == 0 && in.hasMore {
		if err := in.fill(); err != nil {
			return 0, err
		}
	}
	if len(in.buffer) == 0 {
		return 0, io.EOF
	}
	n := copy(p, in.buffer)
	in.buffer = in.buffer[n:]
	return n, nil
}

// Discard drains any unread request body, so the framing engine reaches
// EventEndOfMessage before the next request on the same connection. Mirrors
// http11_protocol's `case h11.Data(): pass` drain loop.
func (in *Input) Discard() error {
	for in.hasMore {
		if err := in.fill(); err != nil {
			return err
		}
		in.buffer = in.buffer[:0]
	}
	return nil
}
