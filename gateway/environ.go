package gateway

import "io"

// Environ is the per-exchange environment passed to an App. It is created
// when headers arrive and must not be referenced by the application after
// it returns.
type Environ struct {
	RequestMethod  string
	ScriptName     string
	PathInfo       string
	QueryString    string
	ServerProtocol string
	ServerName     string
	ServerPort     string
	RemoteAddr     string
	RemotePort     string
	ContentType    string
	ContentLength  string

	// Headers holds one HTTP_* entry per request header, keyed by the
	// canonical WSGI form (upper-cased, hyphens replaced with underscores,
	// "HTTP_" prefixed). Content-Type and Content-Length are surfaced
	// separately above and are not duplicated here.
	Headers map[string]string

	// Input is a readable stream over the request body. Reading from it may
	// transparently emit a 100 Continue interim response on first read, if
	// the client sent Expect: 100-continue.
	Input io.Reader

	// Errors is a writable line sink bound to the debug logger.
	Errors io.Writer

	URLScheme    string
	Multithread  bool
	Multiprocess bool
	RunOnce      bool
}

// HTTPHeader returns the HTTP_* value for the given request header name
// (e.g. "Accept-Encoding" -> environ["HTTP_ACCEPT_ENCODING"]).
func (e *Environ) HTTPHeader(name string) (string, bool) {
	v, ok := e.Headers[ToWSGIName(name)]
	return v, ok
}

// ToWSGIName converts a header name to its environment key form.
func ToWSGIName(name string) string {
	b := make([]byte, 0, len(name)+5)
	b = append(b, "HTTP_"...)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-':
			b = append(b, '_')
		case 'a' <= c && c <= 'z':
			b = append(b, c-('a'-'A'))
		default:
			b = append(b, c)
		}
	}
	return string(b)
}
