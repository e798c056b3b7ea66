package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(context.Background())
	require.NoError(t, err)
	return r
}

func TestRegistryListForRole(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, []string{"get_case_history", "get_customer_profile", "get_order_details"},
		r.ListForRole(RoleContextEnrichment))
	assert.Equal(t, []string{"create_compensation", "create_support_ticket", "issue_refund"},
		r.ListForRole(RoleResolution))
	assert.Empty(t, r.ListForRole("unknown_role"))
}

func TestRegistryCallReadTools(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	profile, err := r.Call(ctx, "get_customer_profile", RoleContextEnrichment,
		map[string]any{"customer_id": "CUST-1001"})
	require.NoError(t, err)
	assert.Equal(t, "GOLD", profile["loyalty_tier"])
	assert.Equal(t, "FR", profile["preferred_language"])

	order, err := r.Call(ctx, "get_order_details", RoleContextEnrichment,
		map[string]any{"order_id": "ORD-5002"})
	require.NoError(t, err)
	assert.Equal(t, "IN_TRANSIT", order["status"])
	assert.Equal(t, 45.0, order["order_total"])

	history, err := r.Call(ctx, "get_case_history", RoleContextEnrichment,
		map[string]any{"customer_id": "CUST-1003"})
	require.NoError(t, err)
	assert.Equal(t, 2, history["total_cases"])
	assert.Equal(t, 1, history["open_case_count"])
	assert.Equal(t, 1, history["recent_escalations_count"])
}

func TestRegistryCallActionTools(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	refund, err := r.Call(ctx, "issue_refund", RoleResolution,
		map[string]any{"order_id": "ORD-5001", "amount": 89.9, "currency": "EUR"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(refund["refund_id"].(string), "RFD-"))
	assert.Equal(t, "ISSUED", refund["status"])

	// Same payload must return the same identifier.
	again, err := r.Call(ctx, "issue_refund", RoleResolution,
		map[string]any{"order_id": "ORD-5001", "amount": 89.9, "currency": "EUR"})
	require.NoError(t, err)
	assert.Equal(t, refund["refund_id"], again["refund_id"])

	comp, err := r.Call(ctx, "create_compensation", RoleResolution,
		map[string]any{"case_id": "CASE-1", "type": "VOUCHER", "value": 16.18, "currency": "EUR"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(comp["compensation_id"].(string), "CMP-"))
	assert.Equal(t, 16.18, comp["applied_value"])

	ticket, err := r.Call(ctx, "create_support_ticket", RoleResolution,
		map[string]any{"case_payload": map[string]any{"case_id": "CASE-1"}, "priority": "CRITICAL"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ticket["ticket_id"].(string), "TCK-"))
	assert.Equal(t, "LEGAL", ticket["queue"])
}

func TestRegistryCallDeniedAcrossRoles(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Call(ctx, "issue_refund", RoleContextEnrichment,
		map[string]any{"order_id": "ORD-5001", "amount": 10.0})
	require.ErrorIs(t, err, ErrPermission)

	_, err = r.Call(ctx, "get_customer_profile", RoleResolution,
		map[string]any{"customer_id": "CUST-1001"})
	require.ErrorIs(t, err, ErrPermission)
}

func TestRegistryCallUnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Call(context.Background(), "delete_everything", RoleResolution, nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistryCallInvalidPayload(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    string
		role    string
		payload map[string]any
	}{
		{"missing customer id", "get_customer_profile", RoleContextEnrichment, map[string]any{}},
		{"blank order id", "get_order_details", RoleContextEnrichment, map[string]any{"order_id": "  "}},
		{"negative refund", "issue_refund", RoleResolution, map[string]any{"order_id": "ORD-5001", "amount": -1.0}},
		{"zero compensation", "create_compensation", RoleResolution, map[string]any{"case_id": "C", "type": "VOUCHER", "value": 0.0}},
		{"ticket without payload", "create_support_ticket", RoleResolution, map[string]any{"priority": "HIGH"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Call(ctx, tt.tool, tt.role, tt.payload)
			require.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestRegistryCallRejectsMalformedBackendResponse(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	// Swap the order backend for one that drops fields the callers read.
	def := r.tools["get_order_details"]
	def.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"order_id": "ORD-5001", "currency": "EUR"}, nil
	}
	r.tools["get_order_details"] = def

	out, err := r.Call(ctx, "get_order_details", RoleContextEnrichment,
		map[string]any{"order_id": "ORD-5001"})
	require.ErrorIs(t, err, ErrInvalidOutput)
	assert.Contains(t, err.Error(), "get_order_details")
	assert.Nil(t, out)
}

func TestRegistryCallValidatesActionToolOutput(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	def := r.tools["issue_refund"]
	def.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"refund_id": "RFD-1", "status": "ISSUED", "currency": "EUR", "amount": "89.90"}, nil
	}
	r.tools["issue_refund"] = def

	_, err := r.Call(ctx, "issue_refund", RoleResolution,
		map[string]any{"order_id": "ORD-5001", "amount": 89.9})
	require.ErrorIs(t, err, ErrInvalidOutput)
	assert.Contains(t, err.Error(), "amount must be a number")
}

func TestRegistryCallBackendNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Call(context.Background(), "get_order_details", RoleContextEnrichment,
		map[string]any{"order_id": "ORD-9999"})
	require.Error(t, err)
	var nf *ErrNotFound
	assert.ErrorAs(t, err, &nf)
}
