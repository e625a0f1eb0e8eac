package agentsdk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAgentFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const reviewerAgent = `---
name: reviewer
description: Reviews code changes for defects
tools: [Read, Grep, Glob]
model: claude-sonnet-4-5
---

You are a meticulous code reviewer.

Focus on correctness over style.`

// TestLoadAgentDefinition verifies frontmatter parsing and the markdown
// body becoming the prompt.
func TestLoadAgentDefinition(t *testing.T) {
	path := writeAgentFile(t, t.TempDir(), "reviewer.md", reviewerAgent)

	name, def, err := LoadAgentDefinition(path)
	require.NoError(t, err)

	assert.Equal(t, "reviewer", name)
	assert.Equal(t, "Reviews code changes for defects", def.Description)
	assert.Equal(t, []string{"Read", "Grep", "Glob"}, def.Tools)
	assert.Equal(t, "claude-sonnet-4-5", def.Model)
	assert.Equal(t, "You are a meticulous code reviewer.\n\n"+
		"Focus on correctness over style.", def.Prompt)
}

// TestLoadAgentDefinitionErrors covers the file, frontmatter, and
// validation failure modes.
func TestLoadAgentDefinitionErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, _, err := LoadAgentDefinition(
			filepath.Join(dir, "absent.md"))
		require.Error(t, err)
	})

	t.Run("missing frontmatter delimiters", func(t *testing.T) {
		path := writeAgentFile(t, dir, "plain.md",
			"just a prompt, no frontmatter")

		_, _, err := LoadAgentDefinition(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "frontmatter")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeAgentFile(t, dir, "badyaml.md",
			"---\nname: [unclosed\n---\nprompt")

		_, _, err := LoadAgentDefinition(path)
		require.Error(t, err)
	})

	t.Run("missing name", func(t *testing.T) {
		path := writeAgentFile(t, dir, "noname.md",
			"---\ndescription: d\n---\nprompt body")

		_, _, err := LoadAgentDefinition(path)
		var invalid *ErrAgentDefinitionInvalid
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "name")
	})

	t.Run("missing description", func(t *testing.T) {
		path := writeAgentFile(t, dir, "nodesc.md",
			"---\nname: helper\n---\nprompt body")

		_, _, err := LoadAgentDefinition(path)
		var invalid *ErrAgentDefinitionInvalid
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "helper", invalid.Name)
		assert.Contains(t, invalid.Reason, "description")
	})

	t.Run("missing prompt", func(t *testing.T) {
		path := writeAgentFile(t, dir, "noprompt.md",
			"---\nname: helper\ndescription: d\n---\n   ")

		_, _, err := LoadAgentDefinition(path)
		var invalid *ErrAgentDefinitionInvalid
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "prompt")
	})
}

// TestLoadAgentDefinitions verifies directory scanning keys by frontmatter
// name and skips everything unparsable.
func TestLoadAgentDefinitions(t *testing.T) {
	dir := t.TempDir()

	writeAgentFile(t, dir, "reviewer.md", reviewerAgent)
	writeAgentFile(t, dir, "tester.md",
		"---\nname: tester\ndescription: Runs tests\n---\nRun them all.")

	// Skipped: invalid definition, wrong extension, subdirectory.
	writeAgentFile(t, dir, "broken.md", "no frontmatter here")
	writeAgentFile(t, dir, "notes.txt", "not markdown")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.md"), 0o755))

	agents, err := LoadAgentDefinitions(dir)
	require.NoError(t, err)

	require.Len(t, agents, 2)
	assert.Equal(t, "Reviews code changes for defects",
		agents["reviewer"].Description)
	assert.Equal(t, "Run them all.", agents["tester"].Prompt)
}

// TestLoadAgentDefinitionsMissingDir verifies an unreadable directory is an
// error.
func TestLoadAgentDefinitionsMissingDir(t *testing.T) {
	_, err := LoadAgentDefinitions(
		filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
