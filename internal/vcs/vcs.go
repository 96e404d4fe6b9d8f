// Package vcs reports version control state for workspaces: the current
// branch, changed files, and unified diffs against HEAD.
package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// FileChange is one changed file in the working tree.
type FileChange struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Status summarizes a workspace's repository state.
type Status struct {
	Branch  string       `json:"branch"`
	Changes []FileChange `json:"changes"`
}

// FileDiff is the per-file unified diff of a working tree change.
type FileDiff struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Diff      string `json:"diff"`
}

// ErrNotRepository is returned for directories outside any git repository.
var ErrNotRepository = errors.New("vcs: not a git repository")

func openRepo(dir string) (*git.Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("vcs: open %s: %w", dir, err)
	}
	return repo, nil
}

// WorkspaceStatus returns the branch name and changed files for the
// repository at dir. A repository with no commits yet reports the branch
// as unknown.
func WorkspaceStatus(dir string) (Status, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return Status{}, err
	}

	status := Status{Branch: branchName(repo), Changes: []FileChange{}}

	wt, err := repo.Worktree()
	if err != nil {
		return status, fmt.Errorf("vcs: worktree: %w", err)
	}
	wtStatus, err := wt.Status()
	if err != nil {
		return status, fmt.Errorf("vcs: status: %w", err)
	}

	for path, fs := range wtStatus {
		letter := statusLetter(fs)
		if letter == "" {
			continue
		}
		status.Changes = append(status.Changes, FileChange{Path: path, Status: letter})
	}
	sort.Slice(status.Changes, func(i, j int) bool {
		return status.Changes[i].Path < status.Changes[j].Path
	})
	return status, nil
}

func branchName(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		return "unknown"
	}
	if name := head.Name().Short(); name != "" && name != "HEAD" {
		return name
	}
	return head.Hash().String()[:7]
}

// statusLetter collapses the staged and unstaged codes into one letter.
// Unstaged changes win so the letter reflects what the user would see on
// disk.
func statusLetter(fs *git.FileStatus) string {
	for _, code := range []git.StatusCode{fs.Worktree, fs.Staging} {
		switch code {
		case git.Untracked, git.Added:
			return "A"
		case git.Modified, git.UpdatedButUnmerged:
			return "M"
		case git.Deleted:
			return "D"
		case git.Renamed, git.Copied:
			return "R"
		}
	}
	return ""
}

// WorkspaceDiffs returns unified diffs of every change against HEAD.
func WorkspaceDiffs(dir string) ([]FileDiff, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return nil, err
	}
	status, err := WorkspaceStatus(dir)
	if err != nil {
		return nil, err
	}

	var headTree *object.Tree
	if head, err := repo.Head(); err == nil {
		if commit, err := repo.CommitObject(head.Hash()); err == nil {
			headTree, _ = commit.Tree()
		}
	}

	diffs := make([]FileDiff, 0, len(status.Changes))
	for _, change := range status.Changes {
		before := headContents(headTree, change.Path)
		after := workingContents(dir, change.Path)
		unified := udiff.Unified("a/"+change.Path, "b/"+change.Path, before, after)
		additions, deletions := countChanges(unified)
		diffs = append(diffs, FileDiff{
			Path:      change.Path,
			Status:    change.Status,
			Additions: additions,
			Deletions: deletions,
			Diff:      unified,
		})
	}
	return diffs, nil
}

func headContents(tree *object.Tree, path string) string {
	if tree == nil {
		return ""
	}
	file, err := tree.File(path)
	if err != nil {
		return ""
	}
	contents, err := file.Contents()
	if err != nil {
		return ""
	}
	return contents
}

func workingContents(dir, path string) string {
	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		return ""
	}
	return string(data)
}

func countChanges(unified string) (additions, deletions int) {
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			additions++
		case strings.HasPrefix(line, "-"):
			deletions++
		}
	}
	return additions, deletions
}
