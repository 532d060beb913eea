package resolver

import (
	"fmt"
	"regexp"
	"strings"
)

// RegexPrefix marks a path rule as a regular expression.
const RegexPrefix = "~"

// PathRule matches request paths for one location or static rule. A literal
// rule matches its prefix segment-wise; a regex rule (leading ~) is anchored
// at the start of the path.
type PathRule struct {
	pattern string
	regex   *regexp.Regexp
}

// CompilePathRule builds a PathRule from an external path.
func CompilePathRule(pattern string) (*PathRule, error) {
	if !strings.HasPrefix(pattern, RegexPrefix) {
		return &PathRule{pattern: pattern}, nil
	}
	expr := strings.TrimSpace(strings.TrimPrefix(pattern, RegexPrefix))
	if expr == "" {
		return nil, fmt.Errorf("empty regular expression in path %q", pattern)
	}
	if !strings.HasPrefix(expr, "^") {
		expr = "^(?:" + expr + ")"
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression in path %q: %w", pattern, err)
	}
	return &PathRule{pattern: pattern, regex: re}, nil
}

// Pattern returns the external path the rule was built from.
func (p *PathRule) Pattern() string {
	return p.pattern
}

// IsRegex reports whether the rule is a regular expression.
func (p *PathRule) IsRegex() bool {
	return p.regex != nil
}

// Match reports whether path falls under the rule.
func (p *PathRule) Match(path string) bool {
	if p.regex != nil {
		return p.regex.MatchString(path)
	}
	return MatchPrefix(p.pattern, path)
}

// Rewrite maps a matched request path onto originPath. An empty originPath,
// or one equal to the external path, leaves the request path unchanged.
func (p *PathRule) Rewrite(path, originPath string) string {
	if originPath == "" || originPath == p.pattern {
		return path
	}
	if p.regex == nil {
		return RewritePath(p.pattern, originPath, path)
	}
	loc := p.regex.FindStringSubmatchIndex(path)
	if loc == nil {
		return path
	}
	head := string(p.regex.ExpandString(nil, originPath, path, loc))
	result := head + path[loc[1]:]
	if !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}

// MatchPrefix reports whether path lies below prefix on a segment boundary.
// "/gw" matches "/gw" and "/gw/users" but not "/gwx"; a prefix ending in "/"
// matches everything below it.
func MatchPrefix(prefix, path string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		// "/gw/" still matches the bare directory "/gw"
		return strings.HasSuffix(prefix, "/") && path == strings.TrimSuffix(prefix, "/")
	}
	if strings.HasSuffix(prefix, "/") || len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}

// RewritePath replaces the literal prefix of path with originPath. The
// caller must have checked MatchPrefix.
func RewritePath(prefix, originPath, path string) string {
	rest := strings.TrimPrefix(path, strings.TrimSuffix(prefix, "/"))
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	result := strings.TrimSuffix(originPath, "/") + rest
	if result == "" {
		return "/"
	}
	if !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}
