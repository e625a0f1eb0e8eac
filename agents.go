package agentsdk

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentDefinition describes a custom subagent the main agent can delegate
// to. Definitions are sent in the initialize payload.
type AgentDefinition struct {
	// Description tells the agent when to delegate to this subagent.
	Description string `json:"description"`

	// Prompt is the subagent's system prompt.
	Prompt string `json:"prompt"`

	// Tools restricts which tools the subagent may use. Empty means all.
	Tools []string `json:"tools,omitempty"`

	// Model overrides the model for this subagent.
	Model string `json:"model,omitempty"`
}

// agentFrontmatter is the YAML frontmatter of an agent markdown file.
type agentFrontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools,omitempty"`
	Model       string   `yaml:"model,omitempty"`
}

// validate checks the required fields of an agent definition.
func (d AgentDefinition) validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ErrAgentDefinitionInvalid{
			Name:   name,
			Reason: "name is required",
		}
	}
	if strings.TrimSpace(d.Description) == "" {
		return &ErrAgentDefinitionInvalid{
			Name:   name,
			Reason: "description is required",
		}
	}
	if strings.TrimSpace(d.Prompt) == "" {
		return &ErrAgentDefinitionInvalid{
			Name:   name,
			Reason: "prompt is required",
		}
	}
	return nil
}

// LoadAgentDefinition reads one agent definition from a markdown file.
//
// The file carries YAML frontmatter (name, description, optional tools and
// model) between "---" delimiters; the markdown body becomes the subagent's
// prompt:
//
//	---
//	name: reviewer
//	description: Reviews code changes for defects
//	tools: [Read, Grep, Glob]
//	---
//
//	You are a meticulous code reviewer...
func LoadAgentDefinition(path string) (string, AgentDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", AgentDefinition{}, fmt.Errorf(
			"failed to read agent file %s: %w", path, err)
	}

	name, def, err := parseAgentMarkdown(content)
	if err != nil {
		return "", AgentDefinition{}, fmt.Errorf(
			"failed to parse agent file %s: %w", path, err)
	}

	if err := def.validate(name); err != nil {
		return "", AgentDefinition{}, err
	}
	return name, def, nil
}

// LoadAgentDefinitions reads every agent markdown file in a directory,
// keyed by the frontmatter name. Files that fail to parse or validate are
// skipped.
func LoadAgentDefinitions(dir string) (map[string]AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents directory %s: %w",
			dir, err)
	}

	agents := make(map[string]AgentDefinition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name, def, err := LoadAgentDefinition(
			filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		agents[name] = def
	}
	return agents, nil
}

// parseAgentMarkdown splits frontmatter from body and builds the
// definition.
func parseAgentMarkdown(content []byte) (string, AgentDefinition, error) {
	parts := bytes.SplitN(content, []byte("---"), 3)
	if len(parts) < 3 {
		return "", AgentDefinition{}, fmt.Errorf(
			"missing frontmatter delimiters")
	}

	var fm agentFrontmatter
	if err := yaml.Unmarshal(parts[1], &fm); err != nil {
		return "", AgentDefinition{}, fmt.Errorf(
			"failed to parse YAML frontmatter: %w", err)
	}

	def := AgentDefinition{
		Description: fm.Description,
		Prompt:      string(bytes.TrimSpace(parts[2])),
		Tools:       fm.Tools,
		Model:       fm.Model,
	}
	return fm.Name, def, nil
}
