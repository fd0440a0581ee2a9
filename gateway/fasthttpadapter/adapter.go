// Package fasthttpadapter exposes a fasthttp-style request handler as a
// gateway.App, for hosts that already have fasthttp handlers and want
// zibai's framing/worker-pool/supervisor semantics instead of fasthttp's own
// server loop. The handler shape adapted here is the one fasthttp.Server
// itself takes:
//
//	server := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) { ... }}
package fasthttpadapter

import (
	"bytes"

	"github.com/valyala/fasthttp"

	"zibai/gateway"
)

// Handler is the fasthttp handler shape being adapted.
type Handler func(ctx *fasthttp.RequestCtx)

// New returns a gateway.App that drives handler through a synthetic
// fasthttp.RequestCtx built from the incoming Environ, then captures the
// handler's response into a gateway response.
func New(handler Handler) gateway.App {
	return func(env *gateway.Environ, start gateway.StartResponseFunc) (gateway.BodyChunks, error) {
		var ctx fasthttp.RequestCtx
		req := &ctx.Request
		req.Header.SetMethod(env.RequestMethod)
		req.SetRequestURI(env.PathInfo + queryStringSuffix(env.QueryString))
		req.Header.SetHost(env.ServerName)
		for key, value := range env.Headers {
			req.Header.Set(dewsgi(key), value)
		}
		if env.ContentType != "" {
			req.Header.SetContentType(env.ContentType)
		}
		if env.Input != nil {
			var buf bytes.Buffer
			buf.ReadFrom(env.Input)
			req.SetBody(buf.Bytes())
		}

		handler(&ctx)

		status := ctx.Response.StatusCode()
		statusLine := fasthttp.StatusMessage(status)

		var headers gateway.Headers
		ctx.Response.Header.VisitAll(func(k, v []byte) {
			headers = append(headers, gateway.Header{Name: string(k), Value: string(v)})
		})

		write, err := start(itoaStatus(status)+" "+statusLine, headers, nil)
		_ = write
		if err != nil {
			return nil, err
		}

		body := ctx.Response.Body()
		chunk := make([]byte, len(body))
		copy(chunk, body)
		return gateway.NewSliceChunks(chunk), nil
	}
}

func queryStringSuffix(qs string) string {
	if qs == "" {
		return ""
	}
	return "?" + qs
}

// dewsgi converts an environment HTTP_* key back into a wire header name,
// e.g. HTTP_ACCEPT_ENCODING -> Accept-Encoding.
func dewsgi(key string) string {
	const prefix = "HTTP_"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		key = key[len(prefix):]
	}
	out := make([]byte, 0, len(key))
	upperNext := true
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '_' {
			out = append(out, '-')
			upperNext = true
			continue
		}
		if upperNext && 'A' <= c && c <= 'Z' {
			out = append(out, c)
		} else if upperNext {
			out = append(out, c)
		} else if 'A' <= c && c <= 'Z' {
			out = append(out, c-'A'+'a')
		} else {
			out = append(out, c)
		}
		upperNext = false
	}
	return string(out)
}

func itoaStatus(status int) string {
	if status == 0 {
		status = 200
	}
	const digits = "0123456789"
	if status < 100 || status > 999 {
		return "200"
	}
	return string([]byte{
		digits[status/100],
		digits[(status/10)%10],
		digits[status%10],
	})
}
