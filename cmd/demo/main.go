// Demo program for the agent SDK.
//
// Runs a single prompt against one of the supported agent CLIs and prints
// the streamed response. The Claude backend requires CLAUDE_CODE_OAUTH_TOKEN
// or ANTHROPIC_API_KEY in the environment.
//
// Usage:
//
//	go run ./cmd/demo "What is 2+2?"
//	go run ./cmd/demo -backend codex "What is 2+2?"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	agentsdk "github.com/roasbeef/agent-sdk-go"
)

func main() {
	backend := flag.String("backend", "claude",
		"agent CLI family: claude, codex, or cursor")
	model := flag.String("model", "", "model override")
	timeout := flag.Duration("timeout", 2*time.Minute,
		"overall turn timeout")
	flag.Parse()

	prompt := "What is 2+2? Answer briefly."
	if flag.NArg() > 0 {
		prompt = strings.Join(flag.Args(), " ")
	}

	if *backend == "claude" &&
		os.Getenv("CLAUDE_CODE_OAUTH_TOKEN") == "" &&
		os.Getenv("ANTHROPIC_API_KEY") == "" {

		fmt.Fprintln(os.Stderr,
			"Error: CLAUDE_CODE_OAUTH_TOKEN or ANTHROPIC_API_KEY must be set")
		os.Exit(1)
	}

	opts := []agentsdk.Option{
		agentsdk.WithBackend(agentsdk.BackendKind(*backend)),
	}
	if *model != "" {
		opts = append(opts, agentsdk.WithModel(*model))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("Prompt: %s\n\n", prompt)
	fmt.Println("Response:")
	fmt.Println("─────────")

	for msg, err := range agentsdk.QueryStream(ctx, prompt, opts...) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			os.Exit(1)
		}

		switch m := msg.(type) {
		case agentsdk.AssistantMessage:
			if text := m.ContentText(); text != "" {
				fmt.Print(text)
			}
			for _, block := range m.Content {
				if block.Type == agentsdk.ContentBlockTypeToolUse {
					fmt.Printf("[tool %s: %s]\n",
						block.Name, describeToolUse(block))
				}
			}

		case agentsdk.SystemMessage:
			if m.Subtype == "init" {
				fmt.Printf("[session %s]\n", m.SessionID())
			}

		case agentsdk.ResultMessage:
			fmt.Println()
			fmt.Println("─────────")
			fmt.Printf("Status: %s\n", m.Subtype)
			if m.Usage != nil {
				fmt.Printf("Tokens: %d input, %d output\n",
					m.Usage.InputTokens, m.Usage.OutputTokens)
			}
			if m.TotalCostUSD != nil {
				fmt.Printf("Cost: $%.4f\n", *m.TotalCostUSD)
			}
		}
	}
}

// describeToolUse renders a short summary of a tool invocation, using the
// typed input views for the tools it recognizes.
func describeToolUse(block agentsdk.ContentBlock) string {
	var input map[string]any
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return string(block.Input)
	}

	switch block.Name {
	case "Bash":
		if in, err := agentsdk.DecodeToolInput[agentsdk.BashInput](
			input); err == nil {

			return in.Command
		}
	case "Read":
		if in, err := agentsdk.DecodeToolInput[agentsdk.FileReadInput](
			input); err == nil {

			return in.FilePath
		}
	case "Edit":
		if in, err := agentsdk.DecodeToolInput[agentsdk.FileEditInput](
			input); err == nil {

			return in.FilePath
		}
	case "Write":
		if in, err := agentsdk.DecodeToolInput[agentsdk.FileWriteInput](
			input); err == nil {

			return in.FilePath
		}
	}
	return string(block.Input)
}
