// Command example_fasthttp hosts a fasthttp.RequestHandler through the
// gateway/fasthttpadapter bridge, showing how an existing fasthttp
// application can be served by zibai's connection handler and supervisor
// instead of fasthttp.Server.Serve directly.
package main

import (
	"fmt"
	"os"

	"github.com/valyala/fasthttp"

	"zibai/cmd/zibai"
	"zibai/gateway"
	"zibai/gateway/fasthttpadapter"
)

func main() {
	handler := func(ctx *fasthttp.RequestCtx) {
		ctx.WriteString(fmt.Sprintf("%d\n", os.Getpid()))
	}

	registry := gateway.NewRegistry()
	registry.RegisterApp("example_fasthttp:app", fasthttpadapter.New(handler))
	zibai.Main(registry)
}
