package framing

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"zibai/gateway"
)

// DefaultMaxIncompleteEventSize caps the size of a request line, a header
// block, or a chunk-size line that has not yet completed. Zero means
// unbounded, matching the CLI default ("--h11-max-incomplete-event-size
// unset").
const DefaultMaxIncompleteEventSize = 0

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyLength
	bodyChunked
)

// Conn drives one HTTP/1.1 connection's request/response cycles. It is not
// safe for concurrent use; a single connection handler goroutine owns it
// for the connection's lifetime.
type Conn struct {
	r   *bufio.Reader
	w   io.Writer
	max int // max incomplete event size, 0 = unbounded

	// per-cycle state
	remaining       int64 // remaining bytes for bodyLength
	mode            bodyMode
	bodyDone        bool
	wantsExpect     bool // Expect: 100-continue seen on this request
	sentContinue    bool
	responseStarted bool // final response status line already written
	headersDone     bool
	closed          bool
}

// NewConn wraps r/w as an HTTP/1.1 server-role connection.
func NewConn(r *bufio.Reader, w io.Writer, maxIncompleteEventSize int) *Conn {
	return &Conn{r: r, w: w, max: maxIncompleteEventSize}
}

// StartNextCycle resets per-exchange state, leaving the connection ready
// for the next request on a keep-alive socket.
func (c *Conn) StartNextCycle() {
	c.remaining = 0
	c.mode = bodyNone
	c.bodyDone = false
	c.wantsExpect = false
	c.sentContinue = false
	c.responseStarted = false
	c.headersDone = false
}

// AwaitingContinue reports whether the client sent Expect: 100-continue and
// the server has not yet emitted the interim response. Once the final
// response's status line has been written, the client is no longer waiting
// for 100 Continue (it already has a response), mirroring h11's
// they_are_waiting_for_100_continue going false as soon as the response
// starts.
func (c *Conn) AwaitingContinue() bool {
	return c.wantsExpect && !c.sentContinue && !c.responseStarted
}

// SendContinue emits the interim "100 Continue" response.
func (c *Conn) SendContinue() error {
	c.sentContinue = true
	_, err := io.WriteString(c.w, "HTTP/1.1 100 Continue\r\n\r\n")
	return err
}

// NextEvent reads and returns the next framing event. Before headers are
// complete it returns EventRequest once the request line and header block
// are fully parsed; after that it returns EventData for body chunks and
// EventEndOfMessage once the declared body length (or terminating chunk) is
// consumed. EventConnectionClosed is returned if the peer closes the
// connection with no bytes pending. EventPaused is returned when called
// again after EventEndOfMessage without an intervening StartNextCycle.
func (c *Conn) NextEvent() (Event, error) {
	if c.closed {
		return Event{Kind: EventConnectionClosed}, nil
	}
	if !c.headersDone {
		return c.readRequestLineAndHeaders()
	}
	if c.bodyDone {
		return Event{Kind: EventPaused}, nil
	}
	return c.readBodyEvent()
}

func (c *Conn) readRequestLineAndHeaders() (Event, error) {
	line, err := c.readLimitedLine()
	if err != nil {
		if err == io.EOF {
			c.closed = true
			return Event{Kind: EventConnectionClosed}, nil
		}
		if _, ok := err.(*ProtocolError); ok {
			return Event{}, err
		}
		return Event{}, newPreBodyError(400, "failed to read request line: "+err.Error())
	}
	if line == "" {
		// RFC 7230 allows a single leading CRLF to be ignored before a
		// request-line for robustness; try again once.
		line, err = c.readLimitedLine()
		if err != nil {
			if err == io.EOF {
				c.closed = true
				return Event{Kind: EventConnectionClosed}, nil
			}
			return Event{}, newPreBodyError(400, "failed to read request line")
		}
	}

	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return Event{}, newPreBodyError(400, err.Error())
	}

	rawHeaders, err := c.readHeaderLines()
	if err != nil {
		return Event{}, err
	}

	headers, contentLength, transferEncoding, expectContinue, perr := validateHeaders(rawHeaders)
	if perr != nil {
		return Event{}, perr
	}

	switch {
	case transferEncoding == "chunked":
		c.mode = bodyChunked
	case contentLength >= 0:
		c.mode = bodyLength
		c.remaining = contentLength
	default:
		c.mode = bodyNone
	}
	c.wantsExpect = expectContinue
	c.headersDone = true

	return Event{
		Kind:    EventRequest,
		Method:  method,
		Target:  target,
		Version: version,
		Headers: headers,
	}, nil
}

// readHeaderLines reads raw (name, value) header lines up to the blank
// line terminating the header block, similar in spirit to sndbox-proxy's
// readHeaders but preserving original case and allowing duplicate names
// (needed to detect conflicting Content-Length values).
func (c *Conn) readHeaderLines() ([]gateway.Header, error) {
	var headers []gateway.Header
	totalSize := 0
	for {
		line, err := c.readLimitedLine()
		if err != nil {
			return nil, err
		}
		totalSize += len(line)
		if c.max > 0 && totalSize > c.max {
			return nil, newPreBodyError(431, "header block too large")
		}
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, newPreBodyError(400, "malformed header line")
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		headers = append(headers, gateway.Header{Name: name, Value: value})
	}
	return headers, nil
}

// readLimitedLine reads one CRLF-terminated line, enforcing the
// incomplete-event size cap when set.
func (c *Conn) readLimitedLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if len(line) == 0 {
			return "", io.EOF
		}
		return "", err
	}
	if c.max > 0 && len(line) > c.max {
		return "", newPreBodyError(431, "line too large")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed request line")
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if method == "" || target == "" {
		return "", "", "", fmt.Errorf("malformed request line")
	}
	switch proto {
	case "HTTP/1.1":
		version = "1.1"
	case "HTTP/1.0":
		version = "1.0"
	default:
		return "", "", "", fmt.Errorf("unsupported HTTP version %q", proto)
	}
	return method, target, version, nil
}

func validateHeaders(raw []gateway.Header) (gateway.Headers, int64, string, bool, *ProtocolError) {
	var headers gateway.Headers
	contentLength := int64(-1)
	var transferEncoding string
	var expectContinue bool
	var contentLengthValues []string

	for _, h := range raw {
		name, v := h.Name, h.Value
		headers = append(headers, gateway.Header{Name: name, Value: v})
		switch strings.ToLower(name) {
		case "content-length":
			contentLengthValues = append(contentLengthValues, v)
		case "transfer-encoding":
			te := strings.ToLower(strings.TrimSpace(v))
			if te != "chunked" {
				return nil, 0, "", false, newPreBodyError(400, "unsupported Transfer-Encoding: "+v)
			}
			transferEncoding = te
		case "expect":
			if strings.EqualFold(strings.TrimSpace(v), "100-continue") {
				expectContinue = true
			}
		}
	}

	if len(contentLengthValues) > 0 {
		if transferEncoding == "chunked" {
			return nil, 0, "", false, newPreBodyError(400, "both Content-Length and Transfer-Encoding: chunked present")
		}
		first := contentLengthValues[0]
		for _, v := range contentLengthValues[1:] {
			if v != first {
				return nil, 0, "", false, newPreBodyError(400, "conflicting Content-Length values")
			}
		}
		n, err := strconv.ParseInt(first, 10, 64)
		if err != nil || n < 0 {
			return nil, 0, "", false, newPreBodyError(400, "invalid Content-Length")
		}
		contentLength = n
	}

	return headers, contentLength, transferEncoding, expectContinue, nil
}

func (c *Conn) readBodyEvent() (Event, error) {
	if c.AwaitingContinue() {
		if err := c.SendContinue(); err != nil {
			return Event{}, newMidBodyError("failed to send 100 Continue: " + err.Error())
		}
	}
	switch c.mode {
	case bodyLength:
		return c.readLengthBody()
	case bodyChunked:
		return c.readChunkedBody()
	default:
		c.bodyDone = true
		return Event{Kind: EventEndOfMessage}, nil
	}
}

func (c *Conn) readLengthBody() (Event, error) {
	if c.remaining <= 0 {
		c.bodyDone = true
		return Event{Kind: EventEndOfMessage}, nil
	}
	buf := make([]byte, minInt64(32*1024, c.remaining))
	n, err := c.r.Read(buf)
	if n > 0 {
		c.remaining -= int64(n)
		return Event{Kind: EventData, Data: buf[:n]}, nil
	}
	if err != nil {
		return Event{}, newMidBodyError("connection closed mid-body: " + err.Error())
	}
	return Event{Kind: EventData, Data: nil}, nil
}

func minInt64(a int, b int64) int {
	if int64(a) < b {
		return a
	}
	return int(b)
}

func (c *Conn) readChunkedBody() (Event, error) {
	line, err := c.readLimitedLine()
	if err != nil {
		if pe, ok := err.(*ProtocolError); ok {
			return Event{}, newMidBodyError(pe.Message)
		}
		return Event{}, newMidBodyError("failed to read chunk size: " + err.Error())
	}
	sizeStr := line
	if i := strings.IndexByte(line, ';'); i >= 0 {
		sizeStr = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
	if err != nil || size < 0 {
		return Event{}, newMidBodyError("invalid chunk size")
	}
	if size == 0 {
		// trailer section, terminated by a blank line; trailers are
		// discarded, matching the original's lack of trailer support.
		for {
			trailerLine, err := c.readLimitedLine()
			if err != nil {
				return Event{}, newMidBodyError("malformed chunk trailer")
			}
			if trailerLine == "" {
				break
			}
		}
		c.bodyDone = true
		return Event{Kind: EventEndOfMessage}, nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(c.r, data); err != nil {
		return Event{}, newMidBodyError("failed to read chunk body: " + err.Error())
	}
	// consume trailing CRLF
	crlf := make([]byte, 2)
	if _, err := io.ReadFull(c.r, crlf); err != nil {
		return Event{}, newMidBodyError("failed to read chunk terminator")
	}
	return Event{Kind: EventData, Data: data}, nil
}

// SendResponse serializes the status line and headers of an outbound
// response. Callers must have already applied framing and hop-by-hop
// header rules; this method only writes bytes. version is "1.0" or "1.1",
// matching the request that prompted this response.
func (c *Conn) SendResponse(version, statusLine string, headers gateway.Headers) error {
	c.responseStarted = true
	var b strings.Builder
	b.WriteString("HTTP/")
	b.WriteString(version)
	b.WriteString(" ")
	b.WriteString(statusLine)
	b.WriteString("\r\n")
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(c.w, b.String())
	return err
}

// SendData writes one identity-framed or chunked-framed body chunk,
// depending on chunked.
func (c *Conn) SendData(data []byte, chunked bool) error {
	if !chunked {
		_, err := c.w.Write(data)
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := io.WriteString(c.w, strconv.FormatInt(int64(len(data)), 16)+"\r\n"); err != nil {
		return err
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(c.w, "\r\n")
	return err
}

// SendEndOfMessage writes the terminating zero-length chunk when chunked,
// and is a no-op for identity/close framing.
func (c *Conn) SendEndOfMessage(chunked bool) error {
	if !chunked {
		return nil
	}
	_, err := io.WriteString(c.w, "0\r\n\r\n")
	return err
}
