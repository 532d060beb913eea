package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPrefix(t *testing.T) {
	tests := []struct {
		prefix, path string
		want         bool
	}{
		{"/gw", "/gw", true},
		{"/gw", "/gw/users", true},
		{"/gw", "/gwx", false},
		{"/gw/", "/gw/users", true},
		{"/gw/", "/gw", true},
		{"/gw/", "/gwx", false},
		{"/", "/anything", true},
		{"", "/anything", true},
		{"/api/v1", "/api/v2", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchPrefix(tt.prefix, tt.path), "%s ~ %s", tt.prefix, tt.path)
	}
}

func TestRewritePath(t *testing.T) {
	tests := []struct {
		prefix, originPath, path, want string
	}{
		{"/gw/", "/v2", "/gw/users", "/v2/users"},
		{"/gw", "/v2", "/gw/users", "/v2/users"},
		{"/gw", "/v2", "/gw", "/v2"},
		{"/gw", "/v2/", "/gw/users", "/v2/users"},
		{"/gw", "/", "/gw/users", "/users"},
		{"/gw", "/", "/gw", "/"},
		{"/", "/v2", "/x", "/v2/x"},
		{"/gw/", "/v2", "/gw/", "/v2/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RewritePath(tt.prefix, tt.originPath, tt.path), "%s -> %s on %s", tt.prefix, tt.originPath, tt.path)
	}
}

func TestPathRuleRewriteIsStable(t *testing.T) {
	rule, err := CompilePathRule("/gw/")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, "/v2/x", rule.Rewrite("/gw/x", "/v2"))
	}
}

func TestPathRuleVerbatim(t *testing.T) {
	rule, err := CompilePathRule("/api")
	require.NoError(t, err)
	assert.Equal(t, "/api/users", rule.Rewrite("/api/users", ""))
	assert.Equal(t, "/api/users", rule.Rewrite("/api/users", "/api"))
}

func TestPathRuleRegex(t *testing.T) {
	rule, err := CompilePathRule(`~/img/([a-z]+)`)
	require.NoError(t, err)
	assert.True(t, rule.IsRegex())

	assert.True(t, rule.Match("/img/cats/1.png"))
	assert.False(t, rule.Match("/static/img/cats"), "regex must be anchored at path start")

	assert.Equal(t, "/images/cats/1.png", rule.Rewrite("/img/cats/1.png", "/images/$1"))
	assert.Equal(t, "/img/cats/1.png", rule.Rewrite("/img/cats/1.png", ""))
}

func TestPathRuleRegexExplicitAnchor(t *testing.T) {
	rule, err := CompilePathRule(`~^/v[0-9]+/`)
	require.NoError(t, err)
	assert.True(t, rule.Match("/v12/items"))
	assert.Equal(t, "/api/items", rule.Rewrite("/v12/items", "/api/"))
}

func TestCompilePathRuleErrors(t *testing.T) {
	_, err := CompilePathRule("~")
	assert.Error(t, err)
	_, err = CompilePathRule("~([")
	assert.Error(t, err)
}
