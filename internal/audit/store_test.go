package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-for-audit-0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStoreRejectsShortKey(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), "too-short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ca := &CaseAudit{
		CaseID:        "CASE-1",
		CustomerID:    "CUST-1",
		ComplaintType: "DEFECTIVE_ITEM",
		Decision:      "REFUND",
		Status:        "RESOLVED",
		Events:        []string{"TRIAGE_COMPLETED", "RESOLUTION_COMPLETED"},
		Detail:        map[string]any{"order_id": "ORD-1"},
	}
	require.NoError(t, s.Record(ctx, ca))
	assert.True(t, strings.HasPrefix(ca.ID, "aud_"))
	assert.True(t, strings.HasPrefix(ca.Signature, "hmac-sha256:"))

	got, err := s.Get(ctx, "CASE-1")
	require.NoError(t, err)
	assert.Equal(t, ca.ID, got.ID)
	assert.Equal(t, "REFUND", got.Decision)
	assert.Equal(t, ca.Signature, got.Signature)
	assert.Equal(t, []string{"TRIAGE_COMPLETED", "RESOLUTION_COMPLETED"}, got.Events)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "CASE-MISSING")
	require.ErrorIs(t, err, ErrAuditNotFound)
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &CaseAudit{
		CaseID: "CASE-1", CustomerID: "CUST-1", Decision: "ESCALATE", Status: "ESCALATED",
		HITLRequired: true, HITLReason: "LEGAL_OR_PUBLIC_RISK",
	}))

	ok, err := s.Verify(ctx, "CASE-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &CaseAudit{
		CaseID: "CASE-1", CustomerID: "CUST-1", Decision: "REFUND", Status: "RESOLVED",
	}))

	_, err := s.db.ExecContext(ctx,
		`UPDATE case_audit SET audit_json = REPLACE(audit_json, '"REFUND"', '"VOUCHER"') WHERE case_id = ?`,
		"CASE-1")
	require.NoError(t, err)

	ok, err := s.Verify(ctx, "CASE-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignRecordIsDeterministicAndNonMutating(t *testing.T) {
	signer, err := NewSigner(testSigningKey)
	require.NoError(t, err)

	ca := &CaseAudit{
		ID: "aud_1", CaseID: "CASE-1", CustomerID: "CUST-1",
		Decision: "REFUND", Status: "RESOLVED",
	}
	first, err := signer.SignRecord(ca)
	require.NoError(t, err)
	second, err := signer.SignRecord(ca)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, ca.Signature, "signing must not write into the record")

	ca.Signature = first
	ok, err := signer.VerifyRecord(ca)
	require.NoError(t, err)
	assert.True(t, ok, "a signed record must verify against its own signature")
}

func TestVerifyRecordRejectsAlteredFields(t *testing.T) {
	signer, err := NewSigner(testSigningKey)
	require.NoError(t, err)

	ca := &CaseAudit{
		ID: "aud_1", CaseID: "CASE-1", CustomerID: "CUST-1",
		Decision: "REFUND", Status: "RESOLVED",
	}
	ca.Signature, err = signer.SignRecord(ca)
	require.NoError(t, err)

	ca.Decision = "VOUCHER"
	ok, err := signer.VerifyRecord(ca)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSignerKeyFormats(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{"raw key", testSigningKey, ""},
		{"hex key", strings.Repeat("ab", 32), ""},
		{"short raw key", "too-short", "at least 32 bytes"},
		{"hex-looking raw key accepted by length", strings.Repeat("ab", 16), ""},
		{"odd length hex", strings.Repeat("ab", 32) + "c", "not valid hex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.key)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &CaseAudit{
		CaseID: "CASE-1", CustomerID: "CUST-1", Decision: "REFUND", Status: "RESOLVED",
		Timestamp: time.Now().UTC().Add(-2 * time.Hour),
	}))
	require.NoError(t, s.Record(ctx, &CaseAudit{
		CaseID: "CASE-2", CustomerID: "CUST-1", Decision: "VOUCHER", Status: "RESOLVED",
	}))
	require.NoError(t, s.Record(ctx, &CaseAudit{
		CaseID: "CASE-3", CustomerID: "CUST-2", Decision: "ESCALATE", Status: "ESCALATED",
	}))

	all, err := s.List(ctx, "CUST-1", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "CASE-2", all[0].CaseID)

	recent, err := s.List(ctx, "CUST-1", time.Now().UTC().Add(-time.Hour), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "CASE-2", recent[0].CaseID)

	limited, err := s.List(ctx, "", time.Time{}, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
