package session

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codexola/codexola/internal/proto"
)

func writeScript(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestShebangRequiresNode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nodeScript := writeScript(t, dir, "codex", "#!/usr/bin/env node\nconsole.log('hi')\n")
	shScript := writeScript(t, dir, "other", "#!/bin/sh\necho hi\n")
	binary := writeScript(t, dir, "native", "\x7fELF not a script")

	require.True(t, shebangRequiresNode(nodeScript))
	require.False(t, shebangRequiresNode(shScript))
	require.False(t, shebangRequiresNode(binary))
}

func TestInspectReportsNodeLauncher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codex := writeScript(t, dir, "codex", "#!/usr/bin/env node\n")
	node := writeScript(t, dir, "node", "#!/bin/sh\n")

	insp, err := Inspect(SpawnOptions{CodexBin: codex})
	require.NoError(t, err)
	require.True(t, insp.RequiresNode)
	require.Equal(t, codex, insp.ResolvedPath)
	require.Equal(t, node, insp.SuggestedNodePath)
}

func TestResolveBinaryPathPrefersWorkspaceOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wsBin := writeScript(t, dir, "ws-codex", "#!/bin/sh\n")
	globalBin := writeScript(t, dir, "global-codex", "#!/bin/sh\n")

	path, err := resolveBinaryPath(SpawnOptions{
		CodexBin: wsBin,
		Settings: proto.AppSettings{CodexBinPath: globalBin},
	})
	require.NoError(t, err)
	require.Equal(t, wsBin, path)
}

func TestResolveBinaryPathRejectsMissingOverride(t *testing.T) {
	t.Parallel()

	_, err := resolveBinaryPath(SpawnOptions{CodexBin: filepath.Join(t.TempDir(), "nope")})
	require.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestBuildCommandFlags(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix script fixture")
	}

	dir := t.TempDir()
	codex := writeScript(t, dir, "codex", "#!/bin/sh\n")

	settings := proto.DefaultSettings()
	settings.BypassApprovalsAndSandbox = true
	settings.EnableWebSearchRequest = true

	cmd, err := BuildCommand(SpawnOptions{Dir: dir, CodexBin: codex, Settings: settings})
	require.NoError(t, err)
	require.Equal(t, codex, cmd.Path)
	require.Equal(t, []string{
		codex,
		"--dangerously-bypass-approvals-and-sandbox",
		"--enable", "web_search_request",
		"app-server",
	}, cmd.Args)
	require.Equal(t, dir, cmd.Dir)
}

func TestBuildCommandWrapsNodeScript(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix script fixture")
	}

	dir := t.TempDir()
	codex := writeScript(t, dir, "codex", "#!/usr/bin/env node\n")
	node := writeScript(t, dir, "node", "#!/bin/sh\n")

	cmd, err := BuildCommand(SpawnOptions{Dir: dir, CodexBin: codex, Settings: proto.DefaultSettings()})
	require.NoError(t, err)
	require.Equal(t, node, cmd.Path)
	require.Equal(t, []string{node, codex, "app-server"}, cmd.Args)
}
