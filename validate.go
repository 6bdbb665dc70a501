package saturn

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// agentNamePattern matches valid agent names: alphanumeric plus - and _,
// length 1-64.
var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidAgentName reports whether name conforms to the agent naming rules.
func ValidAgentName(name string) bool {
	return agentNamePattern.MatchString(name)
}

// SanitizePath resolves p against the workspace root and rejects anything
// that would escape it: parent references, home expansion, and absolute
// paths outside root.
func SanitizePath(root, p string) (string, error) {
	if p == "" {
		return "", &ErrValidation{Field: "path", Reason: "empty path"}
	}
	if len(p) > MaxPathLen {
		return "", &ErrValidation{Field: "path", Reason: fmt.Sprintf("exceeds %d characters", MaxPathLen)}
	}
	if strings.HasPrefix(p, "~") {
		return "", &ErrValidation{Field: "path", Reason: "home-relative paths not allowed"}
	}
	if strings.Contains(p, "..") {
		return "", &ErrValidation{Field: "path", Reason: "parent references not allowed"}
	}
	root = filepath.Clean(root)
	resolved := p
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", &ErrValidation{Field: "path", Reason: "path escapes workspace"}
	}
	return resolved, nil
}

// apiKeyPrefixes are the accepted provider key shapes.
var apiKeyPrefixes = []string{"sk-or-", "sk-ant-", "sk-"}

// ValidAPIKey reports whether key looks like a provider API key: a known
// prefix and at least 20 characters total.
func ValidAPIKey(key string) bool {
	if len(key) < 20 {
		return false
	}
	for _, p := range apiKeyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// ValidateURL parses raw and optionally requires the https scheme.
func ValidateURL(raw string, requireHTTPS bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ErrValidation{Field: "url", Reason: err.Error()}
	}
	if u.Host == "" {
		return &ErrValidation{Field: "url", Reason: "missing host"}
	}
	switch u.Scheme {
	case "https":
	case "http":
		if requireHTTPS {
			return &ErrValidation{Field: "url", Reason: "https required"}
		}
	default:
		return &ErrValidation{Field: "url", Reason: "unsupported scheme: " + u.Scheme}
	}
	return nil
}

// CheckInputSize rejects inputs larger than max bytes (MaxInputBytes when
// max <= 0).
func CheckInputSize(input string, max int) error {
	if max <= 0 {
		max = MaxInputBytes
	}
	if len(input) > max {
		return &ErrValidation{Reason: fmt.Sprintf("input exceeds %d bytes", max)}
	}
	return nil
}
