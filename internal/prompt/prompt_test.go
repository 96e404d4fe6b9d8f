package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644))
}

func TestReadWithFrontMatter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "review", `---
description: Review the current diff
argument-hint: "[focus area]"
---
Please review the staged changes.
`)

	p, err := Read(dir, "review")
	require.NoError(t, err)
	require.Equal(t, "Review the current diff", p.Description)
	require.Equal(t, "[focus area]", p.ArgumentHint)
	require.Equal(t, "Please review the staged changes.\n", p.Content)
}

func TestReadWithoutFrontMatter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "plain", "Just do the thing.\n")

	p, err := Read(dir, "plain")
	require.NoError(t, err)
	require.Empty(t, p.Description)
	require.Equal(t, "Just do the thing.\n", p.Content)
}

func TestReadBrokenFrontMatterKeptVerbatim(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "---\n: : not yaml : :\n---\nbody\n"
	writePrompt(t, dir, "broken", content)

	p, err := Read(dir, "broken")
	require.NoError(t, err)
	require.Empty(t, p.Description)
	require.Equal(t, content, p.Content)
}

func TestReadRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		_, err := Read(t.TempDir(), name)
		require.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePrompt(t, dir, "zeta", "z")
	writePrompt(t, dir, "alpha", "a")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.md"), 0o755))

	prompts, err := List(dir)
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	require.Equal(t, "alpha", prompts[0].Name)
	require.Equal(t, "zeta", prompts[1].Name)
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()

	prompts, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, prompts)
}
