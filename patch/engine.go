package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spotty118/saturn"
	"github.com/spotty118/saturn/perf"
)

// Strategy selects how an edit is applied.
type Strategy int

const (
	// StrategyAuto dispatches structured patches locally and everything
	// else remotely, falling back to local synthesis when enabled.
	StrategyAuto Strategy = iota
	// StrategyRemote requires the fast-apply service.
	StrategyRemote
	// StrategyLocal never contacts the remote service.
	StrategyLocal
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyRemote:
		return "remote"
	case StrategyLocal:
		return "local"
	}
	return "unknown"
}

// Request is one edit to apply.
type Request struct {
	TargetFile   string
	Instructions string
	CodeEdit     string
	Strategy     Strategy
	DryRun       bool
}

// Result reports a completed edit.
type Result struct {
	Path           string
	UpdatedContent string
	StrategyUsed   string
	FallbackUsed   bool
	FallbackReason string
	Duration       time.Duration
}

// Engine applies edits to workspace files via the structured patch dialect
// or the remote fast-apply service. Every completed call records exactly one
// perf metric.
type Engine struct {
	root           string
	remote         *RemoteClient
	tracker        *perf.Tracker
	applier        *Applier
	logger         *slog.Logger
	enableFallback bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRemote attaches the fast-apply client.
func WithRemote(c *RemoteClient) EngineOption {
	return func(e *Engine) { e.remote = c }
}

// WithTracker attaches the perf metrics tracker.
func WithTracker(t *perf.Tracker) EngineOption {
	return func(e *Engine) { e.tracker = t }
}

// WithFallback enables remote-to-local fallback for Auto and Remote.
func WithFallback(enabled bool) EngineOption {
	return func(e *Engine) { e.enableFallback = enabled }
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a patch engine rooted at the workspace dir.
func NewEngine(root string, opts ...EngineOption) *Engine {
	e := &Engine{
		root:    root,
		applier: NewApplier(root),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs one edit per the request's strategy.
func (e *Engine) Apply(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := e.apply(ctx, req)
	res.Duration = time.Since(start)
	e.record(req, res, err)
	return res, err
}

func (e *Engine) apply(ctx context.Context, req Request) (Result, error) {
	target, err := saturn.SanitizePath(e.root, req.TargetFile)
	if err != nil {
		return Result{}, err
	}
	rel, _ := filepath.Rel(e.root, target)

	switch req.Strategy {
	case StrategyLocal:
		return e.applyLocal(rel, req)

	case StrategyRemote:
		res, err := e.applyRemote(ctx, rel, req)
		if err != nil && e.enableFallback && !errors.Is(err, context.Canceled) {
			return e.fallbackLocal(rel, req, err)
		}
		return res, err

	default: // StrategyAuto
		if IsPatch(req.CodeEdit) {
			return e.applyLocal(rel, req)
		}
		res, err := e.applyRemote(ctx, rel, req)
		if err != nil && e.enableFallback && !errors.Is(err, context.Canceled) {
			return e.fallbackLocal(rel, req, err)
		}
		return res, err
	}
}

// applyLocal applies req.CodeEdit as the structured patch dialect, or, when
// the edit is free-form, synthesizes the updated file from its sentinels.
func (e *Engine) applyLocal(rel string, req Request) (Result, error) {
	res := Result{Path: rel, StrategyUsed: perf.StrategyLocal}

	if IsPatch(req.CodeEdit) {
		p, err := Parse(req.CodeEdit)
		if err != nil {
			return res, err
		}
		files, err := e.applier.Apply(p, req.DryRun)
		if err != nil {
			return res, err
		}
		if len(files) > 0 {
			last := files[len(files)-1]
			res.UpdatedContent = last.Content
		}
		return res, nil
	}

	raw, err := os.ReadFile(filepath.Join(e.root, rel))
	if err != nil {
		return res, &Error{File: rel, Detail: fmt.Sprintf("read target: %v", err)}
	}
	updated, err := ExpandSentinels(string(raw), req.CodeEdit)
	if err != nil {
		return res, err
	}
	if !req.DryRun {
		if err := e.writePreservingMode(rel, updated); err != nil {
			return res, err
		}
	}
	res.UpdatedContent = updated
	return res, nil
}

func (e *Engine) applyRemote(ctx context.Context, rel string, req Request) (Result, error) {
	res := Result{Path: rel, StrategyUsed: perf.StrategyRemote}
	if e.remote == nil {
		return res, &Error{File: rel, Detail: "no remote apply endpoint configured"}
	}
	raw, err := os.ReadFile(filepath.Join(e.root, rel))
	if err != nil {
		return res, &Error{File: rel, Detail: fmt.Sprintf("read target: %v", err)}
	}
	updated, err := e.remote.Apply(ctx, req.Instructions, string(raw), req.CodeEdit)
	if err != nil {
		return res, err
	}
	if !req.DryRun {
		if err := e.writePreservingMode(rel, updated); err != nil {
			return res, err
		}
	}
	res.UpdatedContent = updated
	return res, nil
}

func (e *Engine) fallbackLocal(rel string, req Request, cause error) (Result, error) {
	e.logger.Warn("remote apply failed, falling back to local", "file", rel, "error", cause)
	res, err := e.applyLocal(rel, req)
	res.FallbackUsed = true
	res.FallbackReason = cause.Error()
	return res, err
}

func (e *Engine) writePreservingMode(rel, content string) error {
	target := filepath.Join(e.root, rel)
	lock := e.applier.pathLock(target)
	lock.Lock()
	defer lock.Unlock()
	mode := os.FileMode(0o644)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode()
	}
	if err := writeAtomic(target, content, mode); err != nil {
		return &Error{File: rel, Detail: err.Error()}
	}
	return nil
}

// record emits exactly one metric per completed Apply call.
func (e *Engine) record(req Request, res Result, err error) {
	if e.tracker == nil {
		return
	}
	if res.Path == "" {
		res.Path = req.TargetFile
	}
	var size int
	if info, statErr := os.Stat(filepath.Join(e.root, res.Path)); statErr == nil {
		size = int(info.Size())
	}
	m := perf.DiffMetric{
		Timestamp:       time.Now(),
		Strategy:        res.StrategyUsed,
		File:            res.Path,
		FileSizeBytes:   size,
		ExecutionTimeMS: res.Duration.Milliseconds(),
		Success:         err == nil,
		OriginalLength:  len(req.CodeEdit),
		UpdatedLength:   len(res.UpdatedContent),
		FallbackUsed:    res.FallbackUsed,
		FallbackReason:  res.FallbackReason,
	}
	if err != nil {
		m.Error = err.Error()
	}
	if recErr := e.tracker.Record(m); recErr != nil {
		e.logger.Warn("metric record failed", "file", res.Path, "error", recErr)
	}
}

// sentinelRe matches "... existing code ..." markers, optionally wrapped in
// a line comment.
var sentinelRe = regexp.MustCompile(`^\s*(//|#|--|/\*)?\s*\.\.\.\s*existing code\s*\.\.\.\s*(\*/)?\s*$`)

// ExpandSentinels rebuilds the full file from a free-form edit whose
// "... existing code ..." markers stand in for unchanged regions of the
// original. Literal edit lines that match the original advance through it;
// unmatched lines are treated as new content at the current position.
func ExpandSentinels(original, edit string) (string, error) {
	editLines, _ := splitLines(edit)
	hasSentinel := false
	for _, l := range editLines {
		if sentinelRe.MatchString(l) {
			hasSentinel = true
			break
		}
	}
	// Without sentinels the edit is the whole new file.
	if !hasSentinel {
		return edit, nil
	}

	orig, trailing := splitLines(original)
	var out []string
	cursor := 0
	pendingGap := false

	i := 0
	for i < len(editLines) {
		if sentinelRe.MatchString(editLines[i]) {
			pendingGap = true
			i++
			continue
		}
		// Collect one literal segment.
		seg := []string{}
		for i < len(editLines) && !sentinelRe.MatchString(editLines[i]) {
			seg = append(seg, editLines[i])
			i++
		}
		// Anchor the segment: find its first line in the original at or
		// after the cursor.
		anchor := -1
		for j := cursor; j < len(orig); j++ {
			if normalizeWS(orig[j]) == normalizeWS(seg[0]) {
				anchor = j
				break
			}
		}
		if anchor >= 0 {
			if pendingGap {
				out = append(out, orig[cursor:anchor]...)
			}
			cursor = anchor
			// Walk the segment against the original: matching lines are
			// kept context, everything else is an insertion.
			for _, l := range seg {
				if cursor < len(orig) && normalizeWS(orig[cursor]) == normalizeWS(l) {
					out = append(out, orig[cursor])
					cursor++
				} else {
					out = append(out, l)
				}
			}
		} else {
			if pendingGap && len(out) == 0 {
				// Leading gap with unanchored content: keep nothing yet,
				// the trailing gap rule will emit the original tail.
				return "", &Error{Detail: "edit content could not be anchored in the target file"}
			}
			out = append(out, seg...)
		}
		pendingGap = false
	}
	if pendingGap {
		out = append(out, orig[cursor:]...)
	}
	return joinLines(out, trailing), nil
}
