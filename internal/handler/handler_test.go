package handler

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"zibai/gateway"
	"zibai/internal/zlog"
)

func helloApp(env *gateway.Environ, start gateway.StartResponseFunc) (gateway.BodyChunks, error) {
	headers := gateway.Headers{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "Content-Length", Value: "5"},
	}
	if _, err := start("200 OK", headers, nil); err != nil {
		return nil, err
	}
	return gateway.NewSliceChunks([]byte("hello")), nil
}

func chunkedApp(env *gateway.Environ, start gateway.StartResponseFunc) (gateway.BodyChunks, error) {
	headers := gateway.Headers{
		{Name: "Content-Type", Value: "text/plain"},
	}
	if _, err := start("200 OK", headers, nil); err != nil {
		return nil, err
	}
	return gateway.NewSliceChunks([]byte("ab"), []byte("cd"), []byte("")), nil
}

func newTestHandler(app gateway.App) *Handler {
	return &Handler{
		Config: Config{URLScheme: "http"},
		App:    app,
		Sinks:  zlog.New(zlog.Options{}),
	}
}

func TestBasicGETRoundTrip(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(helloApp)
	go h.Serve(server)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	var headers []string
	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
		headers = append(headers, line)
	}
	joined := strings.Join(headers, "")
	is.Contains(joined, "Content-Length: 5\r\n")
	is.Contains(joined, "Date: ")
	is.Contains(joined, "Server: zibai\r\n")

	body := make([]byte, 5)
	_, err = io.ReadFull(r, body)
	is.NoError(err)
	is.Equal("hello", string(body))

	client.Close()
}

func TestChunkedResponseRoundTrip(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(chunkedApp)
	go h.Serve(server)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	want := "2\r\nab\r\n2\r\ncd\r\n0\r\n\r\n"
	rest := make([]byte, len(want))
	_, err = io.ReadFull(r, rest)
	is.NoError(err)
	is.Equal(want, string(rest))

	client.Close()
}

func TestConnectionCloseOnHTTP11RequestClosesAfterResponse(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(helloApp)
	go h.Serve(server)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	var sawClose bool
	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
		if strings.EqualFold(strings.TrimSpace(line), "Connection: close") {
			sawClose = true
		}
	}
	is.True(sawClose, "response must advertise Connection: close when the request asked for it")

	body := make([]byte, 5)
	_, err = io.ReadFull(r, body)
	is.NoError(err)
	is.Equal("hello", string(body))

	// The handler must stop looping and close the connection itself rather
	// than wait for another request; a further read observes EOF/closed pipe
	// instead of hanging for a second response.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = r.ReadByte()
	is.Error(err)

	client.Close()
}

func TestHTTP10KeepAliveRequestStaysOpen(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(helloApp)
	go h.Serve(server)

	_, err := client.Write([]byte("GET / HTTP/1.0\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.0 200 OK\r\n", statusLine)

	var sawKeepAlive bool
	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
		if strings.EqualFold(strings.TrimSpace(line), "Connection: keep-alive") {
			sawKeepAlive = true
		}
	}
	is.True(sawKeepAlive, "an HTTP/1.0 request with Connection: keep-alive must be kept alive")

	body := make([]byte, 5)
	_, err = io.ReadFull(r, body)
	is.NoError(err)
	is.Equal("hello", string(body))

	// A second exchange on the same connection must be served, proving the
	// handler actually looped instead of closing.
	_, err = client.Write([]byte("GET / HTTP/1.0\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))
	is.NoError(err)
	statusLine, err = r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.0 200 OK\r\n", statusLine)

	client.Close()
}

func TestHTTP11RequestWithoutCloseIsKeptAlive(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(helloApp)
	go h.Serve(server)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	var connValue string
	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "connection:") {
			connValue = strings.TrimSpace(line[len("connection:"):])
		}
	}
	is.Equal("keep-alive", connValue)

	client.Close()
}

func TestHeadRequestWithChunkedFramingSendsNoTerminator(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(chunkedApp)
	go h.Serve(server)

	_, err := client.Write([]byte("HEAD / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	var sawChunkedHeader bool
	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(line, "Transfer-Encoding: chunked") {
			sawChunkedHeader = true
		}
	}
	is.True(sawChunkedHeader)

	// A HEAD response must emit zero body bytes, including the chunked
	// terminator; a second request on the same keep-alive connection must
	// be parsed as a fresh response, not as leftover "0\r\n\r\n" bytes.
	_, err = client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)
	statusLine, err = r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	client.Close()
}

func TestHeadRequestSendsNoBody(t *testing.T) {
	is := assert.New(t)

	client, server := net.Pipe()
	h := newTestHandler(helloApp)
	go h.Serve(server)

	_, err := client.Write([]byte("HEAD / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	statusLine, err := r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	var sawContentLength bool
	for {
		line, err := r.ReadString('\n')
		is.NoError(err)
		if line == "\r\n" {
			break
		}
		if strings.HasPrefix(line, "Content-Length: 5") {
			sawContentLength = true
		}
	}
	is.True(sawContentLength)

	// No body bytes follow the headers: the next bytes on this keep-alive
	// connection are the status line of the response to a second request.
	_, err = client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	is.NoError(err)
	statusLine, err = r.ReadString('\n')
	is.NoError(err)
	is.Equal("HTTP/1.1 200 OK\r\n", statusLine)

	client.Close()
}
