// Command scansim-mcp runs the simulated scanner MCP server over stdio.
// Point a catalog entry's command at this binary to exercise the full
// orchestration path without a container runtime.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/pincersec/pincer/pkg/mcpserver/scansim"
)

func main() {
	s := scansim.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
