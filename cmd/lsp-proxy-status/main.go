// lsp-proxy-status is the operator-facing MCP server for inspecting a
// running lsp-proxy's backend pool: it dials that proxy's statusws
// websocket endpoint and exposes pool_status/pool_readiness tools over
// MCP's own stdio transport. It never touches the LSP data path.
package main

import (
	"flag"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/K-dash/pyright-lsp-proxy/statusmcp"
)

func main() {
	statusURL := flag.String("status-url", "ws://127.0.0.1:7777/status", "statusws websocket endpoint of the running lsp-proxy")
	flag.Parse()

	source := statusmcp.NewWebsocketSource(*statusURL)
	srv := statusmcp.NewServer(source)

	if err := server.ServeStdio(srv); err != nil {
		log.Fatal(err)
	}
}
