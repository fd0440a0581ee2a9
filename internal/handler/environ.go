package handler

import (
	"net/url"
	"strings"

	"zibai/gateway"
	"zibai/internal/framing"
)

// Config carries the per-connection-handler settings derived from
// config.Options that environ construction and framing decisions need.
type Config struct {
	ScriptName   string
	URLScheme    string
	Multithread  bool
	Multiprocess bool
}

// buildEnviron mirrors H11Protocol.init_environ: splits the target at the
// first '?', percent-decodes PATH_INFO, and derives SERVER_NAME/PORT and
// REMOTE_ADDR/PORT from the supplied addresses.
func buildEnviron(req framing.Event, cfg Config, serverName, serverPort, remoteAddr, remotePort string, input *Input) *gateway.Environ {
	target := req.Target
	path, query := target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path, query = target[:i], target[i+1:]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	env := &gateway.Environ{
		RequestMethod:  req.Method,
		ScriptName:     cfg.ScriptName,
		PathInfo:       path,
		QueryString:    query,
		ServerProtocol: "HTTP/" + req.Version,
		ServerName:     serverName,
		ServerPort:     serverPort,
		RemoteAddr:     remoteAddr,
		RemotePort:     remotePort,
		URLScheme:      cfg.URLScheme,
		Headers:        map[string]string{},
		Input:          input,
		Multithread:    cfg.Multithread,
		Multiprocess:   cfg.Multiprocess,
		RunOnce:        false,
	}

	for _, h := range req.Headers {
		lower := strings.ToLower(h.Name)
		switch lower {
		case "content-type":
			env.ContentType = h.Value
		case "content-length":
			env.ContentLength = h.Value
		case "host":
			if host, port, ok := splitHostPort(h.Value); ok {
				if host != "" {
					env.ServerName = host
				}
				if port != "" {
					env.ServerPort = port
				}
			}
			env.Headers[gateway.ToWSGIName(h.Name)] = h.Value
		default:
			env.Headers[gateway.ToWSGIName(h.Name)] = h.Value
		}
	}

	return env
}

func splitHostPort(hostHeader string) (host, port string, ok bool) {
	idx := strings.LastIndex(hostHeader, ":")
	if idx < 0 {
		return hostHeader, "", true
	}
	// Guard against bare IPv6 literals without a port, e.g. "[::1]".
	if strings.Contains(hostHeader[idx:], "]") {
		return hostHeader, "", true
	}
	return hostHeader[:idx], hostHeader[idx+1:], true
}
