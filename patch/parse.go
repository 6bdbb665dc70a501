// Package patch parses and applies structured file patches, with an optional
// remote fast-apply service and local fallback.
package patch

import (
	"fmt"
	"strings"
)

// Section markers in the patch dialect.
const (
	markerUpdate = "*** Update File:"
	markerAdd    = "*** Add File:"
	markerDelete = "*** Delete File:"
)

// SectionKind says what a patch section does to its target file.
type SectionKind int

const (
	SectionUpdate SectionKind = iota
	SectionAdd
	SectionDelete
)

func (k SectionKind) String() string {
	switch k {
	case SectionUpdate:
		return "update"
	case SectionAdd:
		return "add"
	case SectionDelete:
		return "delete"
	}
	return "unknown"
}

// Line is one hunk line: Op is '+', '-', or ' '.
type Line struct {
	Op   byte
	Text string
}

// Hunk is one anchored change within an update section.
type Hunk struct {
	Anchor string
	Lines  []Line
}

// Section targets one file. Update sections carry hunks; add sections carry
// the new file's content.
type Section struct {
	Kind    SectionKind
	Path    string
	Hunks   []Hunk
	Content []string
}

// Patch is an ordered sequence of file sections.
type Patch struct {
	Sections []Section
}

// Error reports a patch that could not be parsed or applied.
type Error struct {
	File   string
	Detail string
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("patch %s: %s", e.File, e.Detail)
	}
	return "patch: " + e.Detail
}

// IsPatch reports whether text syntactically looks like the patch dialect.
func IsPatch(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, markerUpdate) ||
		strings.HasPrefix(trimmed, markerAdd) ||
		strings.HasPrefix(trimmed, markerDelete)
}

// Parse reads the patch dialect: a sequence of file sections, update sections
// holding one or more @@ anchor @@ hunks whose lines are prefixed with '+',
// '-', or ' '.
func Parse(text string) (*Patch, error) {
	lines := strings.Split(text, "\n")
	p := &Patch{}
	var cur *Section
	var hunk *Hunk

	flushHunk := func() {
		if hunk != nil && cur != nil {
			cur.Hunks = append(cur.Hunks, *hunk)
			hunk = nil
		}
	}
	flushSection := func() {
		flushHunk()
		if cur != nil {
			p.Sections = append(p.Sections, *cur)
			cur = nil
		}
	}

	for i, raw := range lines {
		switch {
		case strings.HasPrefix(raw, markerUpdate):
			flushSection()
			path := strings.TrimSpace(strings.TrimPrefix(raw, markerUpdate))
			if path == "" {
				return nil, &Error{Detail: fmt.Sprintf("line %d: update section without a path", i+1)}
			}
			cur = &Section{Kind: SectionUpdate, Path: path}

		case strings.HasPrefix(raw, markerAdd):
			flushSection()
			path := strings.TrimSpace(strings.TrimPrefix(raw, markerAdd))
			if path == "" {
				return nil, &Error{Detail: fmt.Sprintf("line %d: add section without a path", i+1)}
			}
			cur = &Section{Kind: SectionAdd, Path: path}

		case strings.HasPrefix(raw, markerDelete):
			flushSection()
			path := strings.TrimSpace(strings.TrimPrefix(raw, markerDelete))
			if path == "" {
				return nil, &Error{Detail: fmt.Sprintf("line %d: delete section without a path", i+1)}
			}
			cur = &Section{Kind: SectionDelete, Path: path}

		case strings.HasPrefix(raw, "@@"):
			if cur == nil || cur.Kind != SectionUpdate {
				return nil, &Error{Detail: fmt.Sprintf("line %d: hunk outside an update section", i+1)}
			}
			flushHunk()
			anchor := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(raw, "@@"), "@@"))
			anchor = strings.TrimSpace(strings.TrimSuffix(anchor, "@@"))
			if anchor == "" {
				return nil, &Error{File: cur.Path, Detail: fmt.Sprintf("line %d: empty hunk anchor", i+1)}
			}
			hunk = &Hunk{Anchor: anchor}

		case len(raw) > 0 && (raw[0] == '+' || raw[0] == '-' || raw[0] == ' '):
			switch {
			case hunk != nil:
				hunk.Lines = append(hunk.Lines, Line{Op: raw[0], Text: raw[1:]})
			case cur != nil && cur.Kind == SectionAdd && raw[0] == '+':
				cur.Content = append(cur.Content, raw[1:])
			case cur != nil && cur.Kind == SectionAdd:
				return nil, &Error{File: cur.Path, Detail: fmt.Sprintf("line %d: add sections only take + lines", i+1)}
			default:
				// Stray change line outside any section; tolerate blanks only.
				if strings.TrimSpace(raw) != "" {
					return nil, &Error{Detail: fmt.Sprintf("line %d: change line outside a section", i+1)}
				}
			}

		case strings.TrimSpace(raw) == "":
			// Blank separator.

		default:
			// Inside an update hunk an unprefixed line is malformed.
			if hunk != nil {
				return nil, &Error{File: cur.Path, Detail: fmt.Sprintf("line %d: hunk line missing +/-/space prefix", i+1)}
			}
		}
	}
	flushSection()

	if len(p.Sections) == 0 {
		return nil, &Error{Detail: "no file sections found"}
	}
	for _, s := range p.Sections {
		if s.Kind == SectionUpdate && len(s.Hunks) == 0 {
			return nil, &Error{File: s.Path, Detail: "update section has no hunks"}
		}
	}
	return p, nil
}

// Invert swaps additions and deletions, producing the patch that undoes this
// one. Add sections become deletes and vice versa (delete inversion needs the
// original content, so inverted deletes restore an empty file only when
// Content is unset).
func (p *Patch) Invert() *Patch {
	inv := &Patch{Sections: make([]Section, 0, len(p.Sections))}
	for _, s := range p.Sections {
		out := Section{Kind: s.Kind, Path: s.Path, Content: s.Content}
		switch s.Kind {
		case SectionAdd:
			out.Kind = SectionDelete
			out.Content = nil
		case SectionDelete:
			out.Kind = SectionAdd
		case SectionUpdate:
			for _, h := range s.Hunks {
				ih := Hunk{Anchor: h.Anchor}
				for _, l := range h.Lines {
					switch l.Op {
					case '+':
						ih.Lines = append(ih.Lines, Line{Op: '-', Text: l.Text})
					case '-':
						ih.Lines = append(ih.Lines, Line{Op: '+', Text: l.Text})
					default:
						ih.Lines = append(ih.Lines, l)
					}
				}
				out.Hunks = append(out.Hunks, ih)
			}
		}
		inv.Sections = append(inv.Sections, out)
	}
	return inv
}
