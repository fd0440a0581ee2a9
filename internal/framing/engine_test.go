package framing

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newConnFromString(t *testing.T, request string) (*Conn, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c := NewConn(bufio.NewReader(bytes.NewBufferString(request)), &out, DefaultMaxIncompleteEventSize)
	return c, &out
}

func TestBasicGETRequest(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal(EventRequest, ev.Kind)
	is.Equal("GET", ev.Method)
	is.Equal("/", ev.Target)
	is.Equal("1.1", ev.Version)

	host, ok := ev.Headers.Get("Host")
	is.True(ok)
	is.Equal("x", host)

	ev, err = c.NextEvent()
	is.NoError(err)
	is.Equal(EventEndOfMessage, ev.Kind)
}

func TestContentLengthBody(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t, "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")

	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal(EventRequest, ev.Kind)

	var body []byte
	for {
		ev, err = c.NextEvent()
		is.NoError(err)
		if ev.Kind == EventEndOfMessage {
			break
		}
		is.Equal(EventData, ev.Kind)
		body = append(body, ev.Data...)
	}
	is.Equal("hello", string(body))
}

func TestChunkedRequestBody(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t,
		"POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
			"2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n")

	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal(EventRequest, ev.Kind)

	var body []byte
	for {
		ev, err = c.NextEvent()
		is.NoError(err)
		if ev.Kind == EventEndOfMessage {
			break
		}
		body = append(body, ev.Data...)
	}
	is.Equal("abcd", string(body))
}

func TestConflictingContentLengthAndChunkedIsRejected(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t,
		"POST /x HTTP/1.1\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\nhello")

	_, err := c.NextEvent()
	is.Error(err)
	perr, ok := err.(*ProtocolError)
	is.True(ok)
	is.Equal(400, perr.Status)
	is.True(perr.PreBody)
}

func TestConflictingContentLengthValuesIsRejected(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t,
		"POST /x HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello1")

	_, err := c.NextEvent()
	is.Error(err)
	perr, ok := err.(*ProtocolError)
	is.True(ok)
	is.Equal(400, perr.Status)
}

func TestHeaderBlockTooLargeYields431(t *testing.T) {
	is := assert.New(t)

	huge := make([]byte, 100)
	for i := range huge {
		huge[i] = 'a'
	}
	request := "GET / HTTP/1.1\r\nX-Big: " + string(huge) + "\r\n\r\n"

	c, _ := newConnFromString(t, request)
	c.max = 32

	_, err := c.NextEvent()
	is.Error(err)
	perr, ok := err.(*ProtocolError)
	is.True(ok)
	is.Equal(431, perr.Status)
}

func TestSendResponseIdentityFraming(t *testing.T) {
	is := assert.New(t)

	c, out := newConnFromString(t, "")
	is.NoError(c.SendResponse("1.1", "200 OK", nil))
	is.NoError(c.SendData([]byte("hello"), false))
	is.NoError(c.SendEndOfMessage(false))
	is.Equal("HTTP/1.1 200 OK\r\n\r\nhello", out.String())
}

func TestSendResponseChunkedFraming(t *testing.T) {
	is := assert.New(t)

	c, out := newConnFromString(t, "")
	is.NoError(c.SendResponse("1.1", "200 OK", nil))
	is.NoError(c.SendData([]byte("ab"), true))
	is.NoError(c.SendData([]byte("cd"), true))
	is.NoError(c.SendEndOfMessage(true))
	is.Equal("HTTP/1.1 200 OK\r\n\r\n2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n", out.String())
}

func TestConnectionClosedWithNoPendingBytes(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t, "")
	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal(EventConnectionClosed, ev.Kind)
}

func TestAwaitingContinueTriggersOnFirstBodyRead(t *testing.T) {
	is := assert.New(t)

	c, out := newConnFromString(t,
		"POST /x HTTP/1.1\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\nhello")

	_, err := c.NextEvent()
	is.NoError(err)
	is.True(c.AwaitingContinue())
	is.Equal("", out.String())

	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal(EventData, ev.Kind)
	is.Equal("HTTP/1.1 100 Continue\r\n\r\n", out.String())
	is.False(c.AwaitingContinue())
}

func TestAwaitingContinueSuppressedOnceResponseStarted(t *testing.T) {
	is := assert.New(t)

	// An application that never reads wsgi.input before responding must not
	// have a 100 Continue interleaved after its final response: the client
	// already has a response and is no longer waiting for one.
	c, out := newConnFromString(t,
		"POST /x HTTP/1.1\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\nhello")

	_, err := c.NextEvent()
	is.NoError(err)
	is.True(c.AwaitingContinue())

	is.NoError(c.SendResponse("1.1", "200 OK", nil))
	is.NoError(c.SendData([]byte("ok"), false))
	is.NoError(c.SendEndOfMessage(false))

	is.False(c.AwaitingContinue())

	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal(EventData, ev.Kind)
	is.Equal("HTTP/1.1 200 OK\r\n\r\nok", out.String(), "no 100 Continue may appear after the final response")
}

func TestStartNextCycleAllowsSecondRequest(t *testing.T) {
	is := assert.New(t)

	c, _ := newConnFromString(t, "GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")

	ev, err := c.NextEvent()
	is.NoError(err)
	is.Equal("/a", ev.Target)
	ev, err = c.NextEvent()
	is.NoError(err)
	is.Equal(EventEndOfMessage, ev.Kind)

	c.StartNextCycle()

	ev, err = c.NextEvent()
	is.NoError(err)
	is.Equal("/b", ev.Target)
}
