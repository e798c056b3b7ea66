// Package policy evaluates tool-access control with embedded OPA. The
// tool→role map is loaded as OPA data at engine construction and every
// tool call is checked against the Rego rules before execution.
package policy

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const (
	toolAccessFile  = "rego/tool_access.rego"
	toolAccessQuery = "data.recourse.policy.tool_access.deny"
)

// Decision represents the result of policy evaluation.
type Decision struct {
	Allowed       bool     `json:"allowed"`
	Action        string   `json:"action"` // "allow" or "deny"
	Reasons       []string `json:"reasons,omitempty"`
	PolicyVersion string   `json:"policy_version"`
}

// ToolACL declares which roles may call a tool.
type ToolACL struct {
	Roles []string `json:"roles"`
}

// Engine evaluates the tool-access policy using precompiled Rego.
type Engine struct {
	version  string
	prepared map[string]rego.PreparedEvalQuery
}

// NewEngine compiles the embedded Rego with the given tool ACL map as OPA
// data. version tags every Decision for the audit trail.
func NewEngine(ctx context.Context, version string, acl map[string]ToolACL) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	tools := make(map[string]interface{}, len(acl))
	for name, entry := range acl {
		roles := make([]interface{}, len(entry.Roles))
		for i, r := range entry.Roles {
			roles[i] = r
		}
		tools[name] = map[string]interface{}{"roles": roles}
	}

	prepared, err := prepareRegoQueries(ctx, map[string]interface{}{
		"policy": map[string]interface{}{"tools": tools},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("policy.tool_count", len(acl)))
	return &Engine{version: version, prepared: prepared}, nil
}

func prepareRegoQueries(ctx context.Context, opaData map[string]interface{}) (map[string]rego.PreparedEvalQuery, error) {
	content, err := embeddedPolicies.ReadFile(toolAccessFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", toolAccessFile, err)
	}

	store := inmem.NewFromObject(opaData)
	r := rego.New(
		rego.Query(toolAccessQuery),
		rego.Module(toolAccessFile, string(content)),
		rego.Store(store),
	)

	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing Rego policy %s: %w", toolAccessFile, err)
	}
	return map[string]rego.PreparedEvalQuery{toolAccessFile: pq}, nil
}

// EvaluateToolAccess checks whether role may call toolName.
func (e *Engine) EvaluateToolAccess(ctx context.Context, toolName, role string) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_tool_access",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tool.role", role),
		))
	defer span.End()

	input := map[string]interface{}{
		"tool_name": toolName,
		"role":      role,
	}

	decision := &Decision{
		Allowed:       true,
		Action:        "allow",
		PolicyVersion: e.version,
	}

	reasons, err := e.evaluateDenyReasons(ctx, toolAccessFile, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	decision.Reasons = append(decision.Reasons, reasons...)

	if len(decision.Reasons) > 0 {
		decision.Allowed = false
		decision.Action = "deny"
	}

	span.SetAttributes(
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.Int("policy.deny_reasons", len(decision.Reasons)),
	)
	if decision.Allowed {
		span.SetStatus(codes.Ok, "policy evaluation passed")
	}
	return decision, nil
}

// evaluateDenyReasons runs a prepared Rego policy that produces a set of
// deny reason strings. OPA returns the set as []interface{} or,
// occasionally, map[string]interface{}.
func (e *Engine) evaluateDenyReasons(ctx context.Context, pkg string, input map[string]interface{}) ([]string, error) {
	pq, ok := e.prepared[pkg]
	if !ok {
		return nil, fmt.Errorf("policy package %s not prepared", pkg)
	}

	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", pkg, err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				reasons = append(reasons, msgStr)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if msgStr, ok := msg.(string); ok {
				reasons = append(reasons, msgStr)
			}
		}
	}
	return reasons, nil
}
