package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), "v1-test", map[string]ToolACL{
		"get_customer_profile":  {Roles: []string{"context_enrichment"}},
		"get_order_details":     {Roles: []string{"context_enrichment"}},
		"get_case_history":      {Roles: []string{"context_enrichment"}},
		"issue_refund":          {Roles: []string{"resolution"}},
		"create_compensation":   {Roles: []string{"resolution"}},
		"create_support_ticket": {Roles: []string{"resolution"}},
	})
	require.NoError(t, err)
	return engine
}

func TestEvaluateToolAccess_AllowedRole(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.EvaluateToolAccess(context.Background(), "get_customer_profile", "context_enrichment")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "allow", decision.Action)
	assert.Empty(t, decision.Reasons)
	assert.Equal(t, "v1-test", decision.PolicyVersion)
}

func TestEvaluateToolAccess_WrongRoleDenied(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		tool string
		role string
	}{
		{"issue_refund", "context_enrichment"},
		{"get_customer_profile", "resolution"},
		{"create_support_ticket", "context_enrichment"},
	}
	for _, tt := range tests {
		decision, err := engine.EvaluateToolAccess(context.Background(), tt.tool, tt.role)
		require.NoError(t, err)
		assert.False(t, decision.Allowed, "%s as %s", tt.tool, tt.role)
		assert.Equal(t, "deny", decision.Action)
		assert.NotEmpty(t, decision.Reasons)
	}
}

func TestEvaluateToolAccess_UnknownToolDenied(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.EvaluateToolAccess(context.Background(), "drop_database", "resolution")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	require.NotEmpty(t, decision.Reasons)
	assert.Contains(t, decision.Reasons[0], "not registered")
}

func TestEvaluateToolAccess_EmptyRoleDenied(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.EvaluateToolAccess(context.Background(), "issue_refund", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
