// Package handler implements the per-connection driver described in
// spec.md §4.2: it pulls framing events, builds the gateway environment,
// invokes the application, and streams the response while enforcing
// framing and keep-alive rules. Grounded on h11.py's H11Protocol/
// http11_protocol functions, translated from h11's push/pull event API to
// Go's blocking-io model.
package handler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"zibai/gateway"
	"zibai/internal/framing"
	"zibai/internal/zlog"
)

const serverHeaderValue = "zibai"

var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Handler drives connections for one application.
type Handler struct {
	Config                  Config
	App                     gateway.App
	Sinks                   *zlog.Sinks
	MaxIncompleteEventSize  int
	ShouldCloseAfterCurrent func() bool // e.g. worker is DRAINING or hit its request budget
}

// Serve drives conn through zero or more request/response exchanges until
// keep-alive ends or a framing/application error forces closure. It always
// closes conn before returning, on every exit path.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()

	serverName, serverPort := splitNetAddr(conn.LocalAddr())
	remoteAddr, remotePort := splitNetAddr(conn.RemoteAddr())

	r := bufio.NewReader(conn)
	engine := framing.NewConn(r, conn, h.MaxIncompleteEventSize)

	for {
		closeAfter, closed := h.runExchange(engine, serverName, serverPort, remoteAddr, remotePort)
		if closed {
			return
		}
		if closeAfter {
			return
		}
		engine.StartNextCycle()
	}
}

// runExchange handles one request/response cycle. closed reports that the
// connection is already gone (peer closed, or we closed it ourselves after
// a fatal error) and the caller must not attempt another cycle.
func (h *Handler) runExchange(engine *framing.Conn, serverName, serverPort, remoteAddr, remotePort string) (closeAfter bool, closed bool) {
	ev, err := engine.NextEvent()
	if err != nil {
		h.handlePreBodyError(engine, err)
		return true, true
	}
	if ev.Kind == framing.EventConnectionClosed {
		return true, true
	}
	if ev.Kind != framing.EventRequest {
		h.Sinks.Debug.Debug("unexpected event awaiting request")
		return true, true
	}

	input := NewInput(engine)
	env := buildEnviron(ev, h.Config, serverName, serverPort, remoteAddr, remotePort, input)
	env.Errors = h.Sinks.Debug.Writer()

	start := time.Now()
	status, bytesSent, closeAfter, exchangeErr := h.callApplication(engine, env)
	duration := time.Since(start)

	if exchangeErr != nil {
		if errors.Is(exchangeErr, errAborted) {
			return true, true
		}
		return true, true
	}

	fields := environFields(env, status, bytesSent, duration)
	h.Sinks.LogHTTP(fields, env.RequestMethod, env.PathInfo, env.ServerProtocol, status)

	// Drain any unread request body so the next request on this connection
	// starts cleanly, mirroring http11_protocol's post-exchange drain loop.
	if err := input.Discard(); err != nil {
		return true, true
	}

	return closeAfter, false
}

var errAborted = errors.New("handler: connection aborted")

// callApplication runs the app and streams its response, returning the
// status code and byte count for logging plus the keep-alive decision for
// this exchange. It never lets an application panic propagate to the
// caller's goroutine.
func (h *Handler) callApplication(engine *framing.Conn, env *gateway.Environ) (status int, bytesSent int64, closeAfter bool, err error) {
	headerSent := false
	var responseStatus string
	var responseHeaders gateway.Headers
	responseSet := false

	start := func(statusLine string, headers gateway.Headers, exc *gateway.ExcInfo) (gateway.Write, error) {
		if exc != nil {
			if headerSent {
				return nil, exc.Err
			}
		} else if responseSet {
			return nil, fmt.Errorf("start_response() was already called")
		}
		responseStatus = statusLine
		responseHeaders = headers
		responseSet = true
		return directWriter(engine), nil
	}

	var body gateway.BodyChunks
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in application: %v", r)
			}
		}()
		body, err = h.App(env, start)
	}()

	if err != nil {
		status, sent, sendErr := h.sendSynthesized500(engine, env, headerSent, err)
		return status, sent, true, sendErr
	}
	if closer, ok := body.(gateway.CloseChunks); ok {
		defer closer.Close()
	}

	chunk, chunkErr := safeNext(body)
	if chunkErr != nil && !errors.Is(chunkErr, io.EOF) {
		status, sent, sendErr := h.sendSynthesized500(engine, env, headerSent, chunkErr)
		return status, sent, true, sendErr
	}
	if !responseSet {
		status, sent, sendErr := h.sendSynthesized500(engine, env, headerSent, fmt.Errorf("start_response() was not called"))
		return status, sent, true, sendErr
	}

	statusCode := parseStatusCode(responseStatus)
	chunked, forcedClose := h.decideFraming(env, responseHeaders, statusCode)
	outHeaders, finalClose := h.finalizeHeaders(env, responseHeaders, chunked, forcedClose)

	if err := engine.SendResponse(httpVersionOf(env), responseStatus, outHeaders); err != nil {
		return statusCode, 0, true, errAborted
	}
	headerSent = true

	isHead := env.RequestMethod == "HEAD"

	for chunkErr == nil {
		if len(chunk) > 0 {
			bytesSent += int64(len(chunk))
			if !isHead {
				if err := engine.SendData(chunk, chunked); err != nil {
					return statusCode, bytesSent, true, errAborted
				}
			}
		}
		chunk, chunkErr = safeNext(body)
	}
	if !errors.Is(chunkErr, io.EOF) {
		// Mid-stream application error after headers: abort, no further
		// bytes, error log only.
		h.Sinks.Error.WithFields(environFields(env, 500, bytesSent, 0)).Error("application error after headers sent: " + chunkErr.Error())
		return statusCode, bytesSent, true, errAborted
	}

	// HEAD never writes a body, not even a chunked terminator: the
	// response is framing-headers-only, matching h11's method-aware
	// suppression of all body bytes on a HEAD response.
	if !isHead {
		if err := engine.SendEndOfMessage(chunked); err != nil {
			return statusCode, bytesSent, true, errAborted
		}
	}

	return statusCode, bytesSent, finalClose, nil
}

func safeNext(body gateway.BodyChunks) (chunk []byte, err error) {
	if body == nil {
		return nil, io.EOF
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic iterating response body: %v", r)
		}
	}()
	return body.Next()
}

func (h *Handler) sendSynthesized500(engine *framing.Conn, env *gateway.Environ, headerSent bool, cause error) (int, int64, error) {
	h.Sinks.Error.WithFields(environFields(env, 500, 0, 0)).Error("error while calling application: " + cause.Error())
	if headerSent {
		return 500, 0, errAborted
	}
	body := []byte("Internal Server Error")
	headers := gateway.Headers{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		{Name: "Connection", Value: "close"},
	}
	headers = h.withDateAndServer(headers)
	if err := engine.SendResponse(httpVersionOf(env), "500 Internal Server Error", headers); err != nil {
		return 500, 0, errAborted
	}
	if env.RequestMethod != "HEAD" {
		engine.SendData(body, false)
	}
	engine.SendEndOfMessage(false)
	return 500, int64(len(body)), errAborted
}

func (h *Handler) handlePreBodyError(engine *framing.Conn, err error) {
	perr, ok := err.(*framing.ProtocolError)
	if !ok {
		h.Sinks.Debug.Debug("socket error before request: " + err.Error())
		return
	}
	if !perr.PreBody || perr.Status == 0 {
		h.Sinks.Debug.Debug("protocol error mid-body: " + perr.Error())
		return
	}
	h.Sinks.Error.Error("protocol error: " + perr.Error())
	body := []byte(perr.Message)
	headers := gateway.Headers{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
		{Name: "Connection", Value: "close"},
	}
	headers = h.withDateAndServer(headers)
	statusLine := statusLineFor(perr.Status)
	if err := engine.SendResponse("1.1", statusLine, headers); err != nil {
		return
	}
	engine.SendData(body, false)
	engine.SendEndOfMessage(false)
}

func statusLineFor(code int) string {
	switch code {
	case 400:
		return "400 Bad Request"
	case 431:
		return "431 Request Header Fields Too Large"
	default:
		return fmt.Sprintf("%d Error", code)
	}
}

// decideFraming applies spec.md §4.2 step 5's outbound framing rules in
// order: application Content-Length wins (identity), else HTTP/1.1 gets
// chunked, else the connection closes after the response because the
// client has no way to find the end of an identity-framed 1.0 body.
// forcedClose reports only this framing-driven reason; the request's own
// Connection header and the worker's drain/budget state are folded in
// separately by finalizeHeaders.
func (h *Handler) decideFraming(env *gateway.Environ, headers gateway.Headers, status int) (chunked, forcedClose bool) {
	if _, ok := headers.Get("Content-Length"); ok {
		return false, false
	}
	if env.ServerProtocol == "HTTP/1.1" {
		return true, false
	}
	return false, true
}

// requestConnectionClose applies spec.md §4.2 step 6's request-side half of
// the keep-alive decision: close on HTTP/1.0 unless the client asked for
// keep-alive; close on HTTP/1.1 if the client asked for close.
func requestConnectionClose(env *gateway.Environ) bool {
	conn, _ := env.HTTPHeader("Connection")
	conn = strings.ToLower(strings.TrimSpace(conn))
	if env.ServerProtocol == "HTTP/1.0" {
		return conn != "keep-alive"
	}
	return conn == "close"
}

// finalizeHeaders strips hop-by-hop headers, stamps Date/Server, and sets
// Connection to the same keep-alive decision (forced framing close, the
// request's own Connection header, or the worker draining/budget state)
// that the caller must also honor when deciding whether to loop for
// another exchange.
func (h *Handler) finalizeHeaders(env *gateway.Environ, headers gateway.Headers, chunked, forcedClose bool) (gateway.Headers, bool) {
	var out gateway.Headers
	for _, hdr := range headers {
		if hopByHop[strings.ToLower(hdr.Name)] {
			continue
		}
		out = append(out, hdr)
	}
	out = h.withDateAndServer(out)
	if chunked {
		out = append(out, gateway.Header{Name: "Transfer-Encoding", Value: "chunked"})
	}
	closeAfter := forcedClose || requestConnectionClose(env) || (h.ShouldCloseAfterCurrent != nil && h.ShouldCloseAfterCurrent())
	connValue := "keep-alive"
	if closeAfter {
		connValue = "close"
	}
	out = append(out, gateway.Header{Name: "Connection", Value: connValue})
	return out, closeAfter
}

func (h *Handler) withDateAndServer(headers gateway.Headers) gateway.Headers {
	out := make(gateway.Headers, 0, len(headers)+2)
	for _, hdr := range headers {
		l := strings.ToLower(hdr.Name)
		if l == "date" || l == "server" {
			continue
		}
		out = append(out, hdr)
	}
	out = append(out, gateway.Header{Name: "Date", Value: time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")})
	out = append(out, gateway.Header{Name: "Server", Value: serverHeaderValue})
	return out
}

func parseStatusCode(statusLine string) int {
	parts := strings.SplitN(statusLine, " ", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 200
	}
	return n
}

func httpVersionOf(env *gateway.Environ) string {
	if env.ServerProtocol == "HTTP/1.0" {
		return "1.0"
	}
	return "1.1"
}

func directWriter(engine *framing.Conn) gateway.Write {
	return func(b []byte) (int, error) {
		if err := engine.SendData(b, false); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

func environFields(env *gateway.Environ, status int, bytesSent int64, duration time.Duration) logrus.Fields {
	fields := logrus.Fields{
		"REQUEST_METHOD":  env.RequestMethod,
		"SCRIPT_NAME":     env.ScriptName,
		"PATH_INFO":       env.PathInfo,
		"QUERY_STRING":    env.QueryString,
		"SERVER_PROTOCOL": env.ServerProtocol,
		"SERVER_NAME":     env.ServerName,
		"SERVER_PORT":     env.ServerPort,
		"REMOTE_ADDR":     env.RemoteAddr,
		"REMOTE_PORT":     env.RemotePort,
		"status":          status,
		"bytes_sent":      bytesSent,
		"duration_ms":     duration.Milliseconds(),
	}
	for k, v := range env.Headers {
		fields[k] = v
	}
	return fields
}

func splitNetAddr(addr net.Addr) (host, port string) {
	if addr == nil {
		return "", "0"
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String(), strconv.Itoa(a.Port)
	case *net.UnixAddr:
		return "", "0"
	default:
		host, port, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String(), "0"
		}
		return host, port
	}
}
