package session

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/codexola/codexola/internal/proto"
)

// SpawnOptions carries everything needed to build the agent server command
// line for one workspace.
type SpawnOptions struct {
	// Dir is the working directory the process starts in.
	Dir string
	// CodexBin overrides the binary for this workspace. Empty means fall
	// back to the global setting, then PATH lookup.
	CodexBin string
	// Settings supplies the global binary overrides and launch flags.
	Settings proto.AppSettings
}

// ErrBinaryNotFound is returned when no agent server binary can be resolved.
var ErrBinaryNotFound = errors.New("session: codex binary not found")

func resolveBinaryPath(opts SpawnOptions) (string, error) {
	for _, candidate := range []string{opts.CodexBin, opts.Settings.CodexBinPath} {
		if candidate == "" {
			continue
		}
		if isExecutablePath(candidate) {
			return candidate, nil
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, candidate)
	}
	path, err := exec.LookPath("codex")
	if err != nil {
		return "", ErrBinaryNotFound
	}
	return path, nil
}

func isExecutablePath(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

// readFirstLine returns the first line of a file, capped so a binary with
// no newlines cannot balloon the read.
func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 512)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// shebangRequiresNode reports whether the file is a script whose
// interpreter line names node. npm installs of the codex CLI ship such a
// launcher, which cannot be exec'd directly on systems where the
// interpreter is not on PATH.
func shebangRequiresNode(path string) bool {
	line, err := readFirstLine(path)
	if err != nil || !strings.HasPrefix(line, "#!") {
		return false
	}
	interp := strings.TrimSpace(line[2:])
	return strings.Contains(interp, "node")
}

// suggestNodePath looks for a node binary next to the resolved codex
// launcher, the usual layout of an npm prefix bin directory.
func suggestNodePath(codexPath string) string {
	sibling := filepath.Join(filepath.Dir(codexPath), "node")
	if runtime.GOOS == "windows" {
		sibling += ".exe"
	}
	if isExecutablePath(sibling) {
		return sibling
	}
	if path, err := exec.LookPath("node"); err == nil {
		return path
	}
	return ""
}

// Inspect resolves the agent server binary for the given options and
// reports whether launching it needs a node interpreter.
func Inspect(opts SpawnOptions) (proto.BinaryInspection, error) {
	path, err := resolveBinaryPath(opts)
	if err != nil {
		return proto.BinaryInspection{}, err
	}
	insp := proto.BinaryInspection{ResolvedPath: path}
	if shebangRequiresNode(path) {
		insp.RequiresNode = true
		insp.SuggestedNodePath = suggestNodePath(path)
	}
	return insp, nil
}

// Validate checks that the configured binary (and node interpreter, when
// one is needed) can actually be launched.
func Validate(opts SpawnOptions) error {
	insp, err := Inspect(opts)
	if err != nil {
		return err
	}
	if insp.RequiresNode {
		node := opts.Settings.NodeBinPath
		if node == "" {
			node = insp.SuggestedNodePath
		}
		if node == "" || !isExecutablePath(node) {
			return fmt.Errorf("session: %s is a node script but no node interpreter is configured", insp.ResolvedPath)
		}
	}
	return nil
}

// BuildCommand constructs the agent server command for a workspace. Node
// launcher scripts are run through the configured interpreter; the optional
// sandbox bypass and web search flags come from settings.
func BuildCommand(opts SpawnOptions) (*exec.Cmd, error) {
	path, err := resolveBinaryPath(opts)
	if err != nil {
		return nil, err
	}

	var args []string
	program := path
	if shebangRequiresNode(path) {
		node := opts.Settings.NodeBinPath
		if node == "" {
			node = suggestNodePath(path)
		}
		if node != "" {
			program = node
			args = append(args, path)
		}
	}
	if opts.Settings.BypassApprovalsAndSandbox {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	}
	if opts.Settings.EnableWebSearchRequest {
		args = append(args, "--enable", "web_search_request")
	}
	args = append(args, "app-server")

	cmd := exec.Command(program, args...)
	cmd.Dir = opts.Dir
	cmd.Env = os.Environ()
	return cmd, nil
}
