// Package grep searches workspace files by regular expression.
package grep

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spotty118/saturn"
)

const (
	maxMatches   = 100
	maxLineChars = 250
	maxFileSize  = 4 << 20 // files larger than this are skipped
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".saturn": true,
}

// Tool searches file contents under the workspace root.
type Tool struct {
	root string
}

// New creates a grep tool restricted to root.
func New(root string) *Tool { return &Tool{root: root} }

func (t *Tool) Definition() saturn.ToolDefinition {
	return saturn.ToolDefinition{
		Name:        "grep",
		Description: "Search workspace files for a regular expression. Returns matching lines as path:line: text, up to 100 matches.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string","description":"Regular expression to search for"},"path":{"type":"string","description":"Directory or file to search, relative to workspace (default workspace root)"},"glob":{"type":"string","description":"Filename glob filter, e.g. *.go"}},"required":["pattern"]}`),
	}
}

// ConcurrencySafe marks searches as safe to run in parallel.
func (t *Tool) ConcurrencySafe() bool { return true }

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (saturn.ToolResult, error) {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return saturn.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Pattern == "" {
		return saturn.ToolResult{Error: "pattern is required"}, nil
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return saturn.ToolResult{Error: "invalid pattern: " + err.Error()}, nil
	}
	if params.Path == "" {
		params.Path = "."
	}
	start, err := saturn.SanitizePath(t.root, params.Path)
	if err != nil {
		return saturn.ToolResult{Error: err.Error()}, nil
	}

	var matches []string
	walkErr := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if params.Glob != "" {
			if ok, _ := filepath.Match(params.Glob, d.Name()); !ok {
				return nil
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxFileSize {
			return nil
		}
		found, err := t.searchFile(path, re, &matches)
		if err != nil {
			return nil
		}
		if found && len(matches) >= maxMatches {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return saturn.ToolResult{Error: "search cancelled"}, nil
	}

	if len(matches) == 0 {
		return saturn.ToolResult{Content: "no matches"}, nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= maxMatches {
		out += fmt.Sprintf("\n... (stopped at %d matches)", maxMatches)
	}
	return saturn.ToolResult{Content: out, Data: matches}, nil
}

func (t *Tool) searchFile(path string, re *regexp.Regexp, matches *[]string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	rel, _ := filepath.Rel(t.root, path)
	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		// Binary heuristic: NUL byte means skip the whole file.
		if strings.IndexByte(line, 0) >= 0 {
			return found, nil
		}
		if re.MatchString(line) {
			found = true
			if len(line) > maxLineChars {
				line = line[:maxLineChars] + "..."
			}
			*matches = append(*matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, line))
			if len(*matches) >= maxMatches {
				return true, nil
			}
		}
	}
	return found, nil
}
