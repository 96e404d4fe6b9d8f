// Package prompt reads the user's saved prompt library: markdown files
// under ~/.codex/prompts, optionally carrying a YAML front matter block
// with a description and argument hint.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is one saved prompt file.
type Prompt struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ArgumentHint string `json:"argumentHint,omitempty"`
	Content      string `json:"content"`
}

type frontMatter struct {
	Description  string `yaml:"description"`
	ArgumentHint string `yaml:"argument-hint"`
}

// ErrInvalidName rejects prompt names that could escape the prompts
// directory.
var ErrInvalidName = errors.New("prompt: invalid prompt name")

func validName(name string) bool {
	return name != "" &&
		!strings.ContainsAny(name, `/\`) &&
		name != "." && name != ".."
}

// List returns every prompt in the directory, sorted by name. A missing
// directory yields an empty list.
func List(dir string) ([]Prompt, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prompt: read dir: %w", err)
	}

	var prompts []Prompt
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		p, err := Read(dir, name)
		if err != nil {
			continue
		}
		prompts = append(prompts, p)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts, nil
}

// Read loads one prompt by name.
func Read(dir, name string) (Prompt, error) {
	if !validName(name) {
		return Prompt{}, ErrInvalidName
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".md"))
	if err != nil {
		return Prompt{}, fmt.Errorf("prompt: read %s: %w", name, err)
	}

	p := Prompt{Name: name}
	body, fm := splitFrontMatter(string(data))
	p.Content = body
	if fm != nil {
		p.Description = fm.Description
		p.ArgumentHint = fm.ArgumentHint
	}
	return p, nil
}

// splitFrontMatter strips a leading "---" delimited YAML block. Files
// without one, or with an unparseable block, are returned whole.
func splitFrontMatter(content string) (string, *frontMatter) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return content, nil
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content, nil
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return content, nil
	}
	return body, &fm
}
