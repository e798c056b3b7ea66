// Package tools is the only path to external side effects. Every call is
// role-checked against the OPA tool-access policy, input-validated,
// retried on transient failure, output-validated, and traced.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
	"github.com/dativo-io/recourse/internal/policy"
	"github.com/dativo-io/recourse/internal/retry"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/tools")

// Pipeline roles. Read tools belong to context enrichment; action tools
// belong to resolution. No role holds both.
const (
	RoleContextEnrichment = "context_enrichment"
	RoleResolution        = "resolution"
)

// policyVersion tags tool-access decisions in the audit trail.
const policyVersion = "tool-acl/v1"

var (
	// ErrPermission reports a role calling a tool outside its grant.
	ErrPermission = errors.New("tool call denied by policy")
	// ErrUnknownTool reports a call to an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidPayload reports a payload missing required fields.
	ErrInvalidPayload = errors.New("invalid tool payload")
	// ErrInvalidOutput reports a backend response missing required fields.
	ErrInvalidOutput = errors.New("invalid tool output")
)

// Handler executes a tool call.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Definition describes a registered tool. Validate screens the payload
// before the handler runs; ValidateOutput screens the backend response
// before it reaches the caller, so a broken backend fails loudly instead
// of feeding partial data into a decision.
type Definition struct {
	Name           string
	Roles          []string
	Validate       func(payload map[string]any) error
	ValidateOutput func(out map[string]any) error
	Handler        Handler
}

// Registry holds tool definitions and the access-control engine.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Definition
	engine *policy.Engine
}

// NewRegistry builds a registry with the six built-in tools and compiles
// the tool-access policy from their role declarations.
func NewRegistry(ctx context.Context) (*Registry, error) {
	r := &Registry{tools: make(map[string]Definition)}
	for _, def := range builtinDefinitions() {
		if err := r.register(def); err != nil {
			return nil, err
		}
	}

	acl := make(map[string]policy.ToolACL, len(r.tools))
	for name, def := range r.tools {
		acl[name] = policy.ToolACL{Roles: def.Roles}
	}
	engine, err := policy.NewEngine(ctx, policyVersion, acl)
	if err != nil {
		return nil, fmt.Errorf("compiling tool access policy: %w", err)
	}
	r.engine = engine
	return r, nil
}

func (r *Registry) register(def Definition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("tool definition requires name and handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// ListForRole returns the sorted tool names the role may call.
func (r *Registry) ListForRole(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, def := range r.tools {
		for _, allowed := range def.Roles {
			if allowed == role {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Call executes a tool on behalf of a role: policy check, payload
// validation, the handler under bounded retry, then output validation.
func (r *Registry) Call(ctx context.Context, name, role string, payload map[string]any) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "tools.call",
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("tool.role", role),
		))
	defer span.End()

	r.mu.RLock()
	def, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	decision, err := r.engine.EvaluateToolAccess(ctx, name, role)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("evaluating tool access for %s: %w", name, err)
	}
	if !decision.Allowed {
		span.SetStatus(codes.Error, "tool access denied")
		log.Warn().
			Str("tool_name", name).
			Str("role", role).
			Strs("reasons", decision.Reasons).
			Func(recourseotel.LogTraceFields(ctx)).
			Msg("tool call denied")
		return nil, fmt.Errorf("%w: %s", ErrPermission, strings.Join(decision.Reasons, "; "))
	}

	if def.Validate != nil {
		if err := def.Validate(payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
		}
	}

	out, err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBaseDelay, func() (map[string]any, error) {
		return def.Handler(ctx, payload)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("calling tool %s: %w", name, err)
	}

	if def.ValidateOutput != nil {
		if err := def.ValidateOutput(out); err != nil {
			span.SetStatus(codes.Error, "tool output rejected")
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, name, err)
		}
	}

	log.Info().
		Str("tool_name", name).
		Str("role", role).
		Func(recourseotel.LogTraceFields(ctx)).
		Msg("tool call succeeded")
	return out, nil
}

func requireString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return s, nil
}

func requireNumber(payload map[string]any, key string) (float64, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

// requireOutputFields is the shared output-schema check: every listed
// string key must be a non-empty string and every listed number key a
// numeric value.
func requireOutputFields(out map[string]any, stringKeys, numberKeys []string) error {
	for _, key := range stringKeys {
		if _, err := requireString(out, key); err != nil {
			return err
		}
	}
	for _, key := range numberKeys {
		if _, err := requireNumber(out, key); err != nil {
			return err
		}
	}
	return nil
}

func optionalCurrency(payload map[string]any) string {
	if v, ok := payload["currency"].(string); ok && strings.TrimSpace(v) != "" {
		return strings.ToUpper(v)
	}
	return "EUR"
}

func builtinDefinitions() []Definition {
	return []Definition{
		{
			Name:  "get_customer_profile",
			Roles: []string{RoleContextEnrichment},
			Validate: func(p map[string]any) error {
				_, err := requireString(p, "customer_id")
				return err
			},
			ValidateOutput: func(out map[string]any) error {
				return requireOutputFields(out,
					[]string{"customer_id", "preferred_language", "loyalty_tier"},
					[]string{"ninety_day_compensation_total"})
			},
			Handler: func(_ context.Context, p map[string]any) (map[string]any, error) {
				id, _ := requireString(p, "customer_id")
				return getCustomerProfile(id)
			},
		},
		{
			Name:  "get_order_details",
			Roles: []string{RoleContextEnrichment},
			Validate: func(p map[string]any) error {
				_, err := requireString(p, "order_id")
				return err
			},
			ValidateOutput: func(out map[string]any) error {
				return requireOutputFields(out,
					[]string{"order_id", "customer_id", "currency", "status"},
					[]string{"order_total"})
			},
			Handler: func(_ context.Context, p map[string]any) (map[string]any, error) {
				id, _ := requireString(p, "order_id")
				return getOrderDetails(id)
			},
		},
		{
			Name:  "get_case_history",
			Roles: []string{RoleContextEnrichment},
			Validate: func(p map[string]any) error {
				_, err := requireString(p, "customer_id")
				return err
			},
			ValidateOutput: func(out map[string]any) error {
				return requireOutputFields(out,
					[]string{"customer_id"},
					[]string{"total_cases", "open_case_count", "recent_escalations_count"})
			},
			Handler: func(_ context.Context, p map[string]any) (map[string]any, error) {
				id, _ := requireString(p, "customer_id")
				return getCaseHistory(id)
			},
		},
		{
			Name:  "issue_refund",
			Roles: []string{RoleResolution},
			Validate: func(p map[string]any) error {
				if _, err := requireString(p, "order_id"); err != nil {
					return err
				}
				amount, err := requireNumber(p, "amount")
				if err != nil {
					return err
				}
				if amount < 0 {
					return fmt.Errorf("amount must not be negative")
				}
				return nil
			},
			ValidateOutput: func(out map[string]any) error {
				return requireOutputFields(out,
					[]string{"refund_id", "status", "currency"},
					[]string{"amount"})
			},
			Handler: func(_ context.Context, p map[string]any) (map[string]any, error) {
				orderID, _ := requireString(p, "order_id")
				amount, _ := requireNumber(p, "amount")
				return issueRefund(orderID, amount, optionalCurrency(p)), nil
			},
		},
		{
			Name:  "create_compensation",
			Roles: []string{RoleResolution},
			Validate: func(p map[string]any) error {
				if _, err := requireString(p, "case_id"); err != nil {
					return err
				}
				if _, err := requireString(p, "type"); err != nil {
					return err
				}
				value, err := requireNumber(p, "value")
				if err != nil {
					return err
				}
				if value <= 0 {
					return fmt.Errorf("value must be positive")
				}
				return nil
			},
			ValidateOutput: func(out map[string]any) error {
				return requireOutputFields(out,
					[]string{"compensation_id", "status", "currency"},
					[]string{"applied_value"})
			},
			Handler: func(_ context.Context, p map[string]any) (map[string]any, error) {
				caseID, _ := requireString(p, "case_id")
				compType, _ := requireString(p, "type")
				value, _ := requireNumber(p, "value")
				return createCompensation(caseID, compType, value, optionalCurrency(p)), nil
			},
		},
		{
			Name:  "create_support_ticket",
			Roles: []string{RoleResolution},
			Validate: func(p map[string]any) error {
				if _, ok := p["case_payload"].(map[string]any); !ok {
					return fmt.Errorf("missing case_payload")
				}
				_, err := requireString(p, "priority")
				return err
			},
			ValidateOutput: func(out map[string]any) error {
				return requireOutputFields(out,
					[]string{"ticket_id", "status", "queue"}, nil)
			},
			Handler: func(_ context.Context, p map[string]any) (map[string]any, error) {
				casePayload, _ := p["case_payload"].(map[string]any)
				priority, _ := requireString(p, "priority")
				return createSupportTicket(casePayload, priority), nil
			},
		},
	}
}
