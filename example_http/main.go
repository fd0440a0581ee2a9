// Command example_http is a minimal zibai-hosted application: it replies
// with the serving process's pid, the same response the teacher's
// endless.go example served directly off net/http, now expressed as a
// gateway.App registered in-process and handed to the zibai CLI.
package main

import (
	"fmt"
	"os"

	"zibai/cmd/zibai"
	"zibai/gateway"
)

func pidApp(env *gateway.Environ, start gateway.StartResponseFunc) (gateway.BodyChunks, error) {
	body := []byte(fmt.Sprintf("%d\n", os.Getpid()))
	headers := gateway.Headers{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
	}
	if _, err := start("200 OK", headers, nil); err != nil {
		return nil, err
	}
	return gateway.NewSliceChunks(body), nil
}

func main() {
	registry := gateway.NewRegistry()
	registry.RegisterApp("example_http:pidApp", pidApp)
	zibai.Main(registry)
}
