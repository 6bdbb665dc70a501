package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// normalizeWS collapses runs of spaces and tabs to a single space and trims
// the ends. Line boundaries are preserved by callers.
func normalizeWS(s string) string {
	var b strings.Builder
	inRun := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			inRun = true
			continue
		}
		if inRun && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

// splitLines splits content into lines, tracking whether it ended with a
// trailing newline so joinLines can restore it.
func splitLines(content string) (lines []string, trailingNewline bool) {
	if content == "" {
		return nil, false
	}
	trailingNewline = strings.HasSuffix(content, "\n")
	if trailingNewline {
		content = content[:len(content)-1]
	}
	return strings.Split(content, "\n"), trailingNewline
}

func joinLines(lines []string, trailingNewline bool) string {
	out := strings.Join(lines, "\n")
	if trailingNewline && out != "" {
		out += "\n"
	}
	return out
}

// ApplyHunks applies the hunks to content in order and returns the new
// content. Any hunk that fails aborts the whole application.
func ApplyHunks(path, content string, hunks []Hunk) (string, error) {
	lines, trailing := splitLines(content)
	for i, h := range hunks {
		var err error
		lines, err = applyHunk(lines, h)
		if err != nil {
			return "", &Error{File: path, Detail: fmt.Sprintf("hunk %d (@@ %s @@): %v", i+1, h.Anchor, err)}
		}
	}
	return joinLines(lines, trailing), nil
}

// applyHunk locates the hunk's anchor and applies its lines.
//
// The anchor is the first file line whose normalized text contains the
// normalized anchor. The hunk's context and deletion lines are then matched
// as a consecutive block at a position whose span covers the anchor line, so
// context may precede the anchor. A hunk with only additions inserts them
// after the anchor line.
func applyHunk(lines []string, h Hunk) ([]string, error) {
	anchor := normalizeWS(h.Anchor)
	anchorIdx := -1
	for i, l := range lines {
		if strings.Contains(normalizeWS(l), anchor) {
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		return nil, fmt.Errorf("anchor not found")
	}

	// Count the file lines the hunk consumes (context + deletions).
	span := 0
	for _, l := range h.Lines {
		if l.Op == ' ' || l.Op == '-' {
			span++
		}
	}

	// Pure insertion: place additions directly after the anchor line.
	if span == 0 {
		out := make([]string, 0, len(lines)+len(h.Lines))
		out = append(out, lines[:anchorIdx+1]...)
		for _, l := range h.Lines {
			out = append(out, l.Text)
		}
		out = append(out, lines[anchorIdx+1:]...)
		return out, nil
	}

	// Try each start position whose consumed span would cover the anchor.
	start := anchorIdx - span + 1
	if start < 0 {
		start = 0
	}
	for s := start; s <= anchorIdx; s++ {
		if out, ok := tryApplyAt(lines, h, s); ok {
			return out, nil
		}
	}
	return nil, fmt.Errorf("context does not match around anchor")
}

// tryApplyAt matches the hunk's block starting at file line s and, on a full
// match, returns the rewritten lines.
func tryApplyAt(lines []string, h Hunk, s int) ([]string, bool) {
	out := make([]string, 0, len(lines)+len(h.Lines))
	out = append(out, lines[:s]...)
	cursor := s
	for _, l := range h.Lines {
		switch l.Op {
		case ' ':
			if cursor >= len(lines) || normalizeWS(lines[cursor]) != normalizeWS(l.Text) {
				return nil, false
			}
			out = append(out, lines[cursor])
			cursor++
		case '-':
			if cursor >= len(lines) || normalizeWS(lines[cursor]) != normalizeWS(l.Text) {
				return nil, false
			}
			cursor++
		case '+':
			out = append(out, l.Text)
		}
	}
	out = append(out, lines[cursor:]...)
	return out, true
}

// Applier applies parsed patches to the filesystem under a workspace root.
// Writes to the same target path are serialized, and each file is replaced
// atomically via write-then-rename.
type Applier struct {
	root  string
	locks sync.Map // resolved path -> *sync.Mutex
}

// NewApplier creates an applier rooted at dir.
func NewApplier(root string) *Applier {
	return &Applier{root: root}
}

// FileResult describes what happened to one file during Apply.
type FileResult struct {
	Path    string
	Kind    SectionKind
	Before  int // bytes
	After   int // bytes
	Content string
}

// Apply processes every section of the patch in order. Any section failure
// aborts the application; files already written stay written (sections are
// independent files), but within one file all hunks apply or none do. With
// dryRun set, no file is touched and the would-be content is returned.
func (a *Applier) Apply(p *Patch, dryRun bool) ([]FileResult, error) {
	results := make([]FileResult, 0, len(p.Sections))
	for _, s := range p.Sections {
		res, err := a.applySection(s, dryRun)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *Applier) applySection(s Section, dryRun bool) (FileResult, error) {
	target := filepath.Join(a.root, s.Path)
	lock := a.pathLock(target)
	lock.Lock()
	defer lock.Unlock()

	switch s.Kind {
	case SectionAdd:
		if _, err := os.Stat(target); err == nil {
			return FileResult{}, &Error{File: s.Path, Detail: "add target already exists"}
		}
		content := joinLines(s.Content, true)
		if !dryRun {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return FileResult{}, &Error{File: s.Path, Detail: err.Error()}
			}
			if err := writeAtomic(target, content, 0o644); err != nil {
				return FileResult{}, &Error{File: s.Path, Detail: err.Error()}
			}
		}
		return FileResult{Path: s.Path, Kind: s.Kind, After: len(content), Content: content}, nil

	case SectionDelete:
		info, err := os.Stat(target)
		if err != nil {
			return FileResult{}, &Error{File: s.Path, Detail: "delete target does not exist"}
		}
		if !dryRun {
			if err := os.Remove(target); err != nil {
				return FileResult{}, &Error{File: s.Path, Detail: err.Error()}
			}
		}
		return FileResult{Path: s.Path, Kind: s.Kind, Before: int(info.Size())}, nil

	default: // SectionUpdate
		raw, err := os.ReadFile(target)
		if err != nil {
			return FileResult{}, &Error{File: s.Path, Detail: fmt.Sprintf("read target: %v", err)}
		}
		updated, err := ApplyHunks(s.Path, string(raw), s.Hunks)
		if err != nil {
			return FileResult{}, err
		}
		if !dryRun {
			mode := os.FileMode(0o644)
			if info, err := os.Stat(target); err == nil {
				mode = info.Mode()
			}
			if err := writeAtomic(target, updated, mode); err != nil {
				return FileResult{}, &Error{File: s.Path, Detail: err.Error()}
			}
		}
		return FileResult{Path: s.Path, Kind: s.Kind, Before: len(raw), After: len(updated), Content: updated}, nil
	}
}

func (a *Applier) pathLock(target string) *sync.Mutex {
	v, _ := a.locks.LoadOrStore(target, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// writeAtomic writes content to a temp file in the target's directory, then
// renames it over the target, preserving mode.
func writeAtomic(target, content string, mode os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}
