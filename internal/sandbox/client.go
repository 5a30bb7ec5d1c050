package sandbox

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client is the RPC surface of one running sandbox. The production
// implementation speaks MCP over the container's stdio; tests substitute
// fakes.
type Client interface {
	// CallTool invokes one tool method and returns its text output.
	CallTool(ctx context.Context, method string, args map[string]any) (string, error)
	Close() error
}

// mcpClient adapts an MCP client session to the Client interface.
type mcpClient struct {
	session *sdkmcp.ClientSession
}

func (c *mcpClient) CallTool(ctx context.Context, method string, args map[string]any) (string, error) {
	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      method,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	if result.IsError {
		for _, content := range result.Content {
			if textContent, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("tool error: %s", textContent.Text)
			}
		}
		return "", fmt.Errorf("tool %s failed", method)
	}

	var output strings.Builder
	for _, content := range result.Content {
		if textContent, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(textContent.Text)
		}
	}
	return output.String(), nil
}

func (c *mcpClient) Close() error {
	return c.session.Close()
}
