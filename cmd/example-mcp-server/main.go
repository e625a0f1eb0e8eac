// Example external MCP server.
//
// The SDK's in-process servers (agentsdk.NewMcpServer) cover most tool
// needs, but an agent CLI can also be pointed at a standalone stdio MCP
// server. This program is such a server, built on the official
// github.com/modelcontextprotocol/go-sdk, exposing a few small text and
// arithmetic tools.
//
// Usage:
//
//	go build -o example-mcp-server ./cmd/example-mcp-server
//	# then register the binary as a stdio MCP server with your agent CLI
package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// AddNumbersArgs is the input schema for the add_numbers tool.
type AddNumbersArgs struct {
	A int `json:"a" jsonschema:"First number to add"`
	B int `json:"b" jsonschema:"Second number to add"`
}

// EchoArgs is the input schema for the echo tool.
type EchoArgs struct {
	Message string `json:"message" jsonschema:"Message to echo back"`
}

// WordCountArgs is the input schema for the word_count tool.
type WordCountArgs struct {
	Text string `json:"text" jsonschema:"Text to count words in"`
}

func main() {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "example-mcp-server",
			Version: "1.0.0",
		},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_numbers",
		Description: "Add two numbers together and return the sum",
	}, func(
		ctx context.Context,
		req *mcp.CallToolRequest,
		args AddNumbersArgs,
	) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{
					Text: fmt.Sprintf("%d", args.A+args.B),
				},
			},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo back the provided message",
	}, func(
		ctx context.Context,
		req *mcp.CallToolRequest,
		args EchoArgs,
	) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: args.Message},
			},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "word_count",
		Description: "Count the whitespace-separated words in a string",
	}, func(
		ctx context.Context,
		req *mcp.CallToolRequest,
		args WordCountArgs,
	) (*mcp.CallToolResult, any, error) {
		n := len(strings.Fields(args.Text))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d", n)},
			},
		}, nil, nil
	})

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
