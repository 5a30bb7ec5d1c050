// Package scansim provides an MCP server that fakes a network scanner.
// It stands in for real scanner containers in tests and local
// development, so the orchestration path can be exercised without a
// container runtime.
package scansim

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// candidatePorts is the fixed set scan results are drawn from. Which
// subset reports open is a pure function of the target string, so tests
// get stable output without canned fixtures.
var candidatePorts = []int{22, 25, 53, 80, 110, 139, 443, 445, 3306, 5432, 8080, 8443}

var serviceNames = map[int]string{
	22: "ssh", 25: "smtp", 53: "domain", 80: "http", 110: "pop3",
	139: "netbios-ssn", 443: "https", 445: "microsoft-ds",
	3306: "mysql", 5432: "postgresql", 8080: "http-proxy", 8443: "https-alt",
}

// NewServer creates the simulated scanner MCP server with scan and ping
// tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"scansim",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	scanTool := mcp.NewTool("scan",
		mcp.WithDescription("Simulates a port scan against a target host"),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("Hostname or address to scan"),
		),
		mcp.WithString("ports",
			mcp.Description("Port range, e.g. 1-1024 (informational only)"),
		),
	)
	s.AddTool(scanTool, scanHandler)

	pingTool := mcp.NewTool("ping",
		mcp.WithDescription("Simulates an ICMP reachability check"),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("Hostname or address to ping"),
		),
	)
	s.AddTool(pingTool, pingHandler)

	return s
}

func scanHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	target, ok := args["target"].(string)
	if !ok || target == "" {
		return mcp.NewToolResultError("target argument is required"), nil
	}
	ports, _ := args["ports"].(string)
	if ports == "" {
		ports = "1-1024"
	}

	open := OpenPorts(target)

	var b strings.Builder
	fmt.Fprintf(&b, "Scan report for %s (ports %s)\n", target, ports)
	if len(open) == 0 {
		fmt.Fprintf(&b, "All scanned ports are closed\n")
	}
	for _, p := range open {
		fmt.Fprintf(&b, "%d/tcp open %s\n", p, serviceNames[p])
	}
	fmt.Fprintf(&b, "Scan done: 1 host up, %d open ports", len(open))

	return mcp.NewToolResultText(b.String()), nil
}

func pingHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	target, ok := args["target"].(string)
	if !ok || target == "" {
		return mcp.NewToolResultError("target argument is required"), nil
	}

	// Sub-millisecond and stable per target.
	rtt := float64(hash(target)%900+100) / 1000.0
	return mcp.NewToolResultText(fmt.Sprintf("%s is up (rtt %.3fms)", target, rtt)), nil
}

// OpenPorts returns the deterministic open-port set for a target, in
// ascending order. Exposed so tests can compute expected scan output.
func OpenPorts(target string) []int {
	h := hash(target)
	var open []int
	for i, p := range candidatePorts {
		if h&(1<<uint(i)) != 0 {
			open = append(open, p)
		}
	}
	sort.Ints(open)
	return open
}

func hash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
