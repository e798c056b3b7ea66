// Package audit provides an HMAC-signed trail of finalized cases.
//
// Every pipeline run produces a CaseAudit record that is signed
// (HMAC-SHA256) and persisted in SQLite, so the decision, its inputs,
// and the sequence of events can be verified after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/audit")

// ErrAuditNotFound is returned when no audit record exists for a case.
var ErrAuditNotFound = errors.New("audit record not found")

// CaseAudit is the full audit record for one pipeline run.
type CaseAudit struct {
	ID            string         `json:"id"`
	CaseID        string         `json:"case_id"`
	CustomerID    string         `json:"customer_id"`
	Timestamp     time.Time      `json:"timestamp"`
	ComplaintType string         `json:"complaint_type"`
	Decision      string         `json:"decision"`
	Status        string         `json:"status"`
	HITLRequired  bool           `json:"hitl_required"`
	HITLReason    string         `json:"hitl_reason,omitempty"`
	Events        []string       `json:"events,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	Signature     string         `json:"signature"`
}

// Store persists HMAC-signed case audit records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates an audit store with HMAC signing.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS case_audit (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		decision TEXT NOT NULL,
		status TEXT NOT NULL,
		audit_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_case_audit_case ON case_audit(case_id);
	CREATE INDEX IF NOT EXISTS idx_case_audit_customer ON case_audit(customer_id);
	CREATE INDEX IF NOT EXISTS idx_case_audit_timestamp ON case_audit(timestamp);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record signs and saves a case audit record. It assigns ID and
// timestamp when unset.
func (s *Store) Record(ctx context.Context, ca *CaseAudit) error {
	ctx, span := tracer.Start(ctx, "audit.record",
		trace.WithAttributes(
			attribute.String("case_id", ca.CaseID),
			attribute.String("customer_id", ca.CustomerID),
			attribute.String("decision", ca.Decision),
		))
	defer span.End()

	if ca.CaseID == "" || ca.CustomerID == "" {
		return fmt.Errorf("audit record requires case_id and customer_id")
	}
	if ca.ID == "" {
		ca.ID = "aud_" + uuid.New().String()[:12]
	}
	if ca.Timestamp.IsZero() {
		ca.Timestamp = time.Now().UTC()
	}

	signature, err := s.signer.SignRecord(ca)
	if err != nil {
		return fmt.Errorf("signing audit record: %w", err)
	}
	ca.Signature = signature

	signedJSON, err := json.Marshal(ca)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_audit (id, case_id, customer_id, timestamp, decision, status, audit_json, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ca.ID, ca.CaseID, ca.CustomerID, ca.Timestamp, ca.Decision, ca.Status,
		string(signedJSON), signature)
	if err != nil {
		return fmt.Errorf("storing audit record: %w", err)
	}

	span.SetAttributes(attribute.String("audit.id", ca.ID))
	return nil
}

// Get retrieves the most recent audit record for a case.
func (s *Store) Get(ctx context.Context, caseID string) (*CaseAudit, error) {
	ctx, span := tracer.Start(ctx, "audit.get",
		trace.WithAttributes(attribute.String("case_id", caseID)))
	defer span.End()

	var auditJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT audit_json FROM case_audit WHERE case_id = ? ORDER BY timestamp DESC LIMIT 1`,
		caseID).Scan(&auditJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrAuditNotFound, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit record: %w", err)
	}

	var ca CaseAudit
	if err := json.Unmarshal([]byte(auditJSON), &ca); err != nil {
		return nil, fmt.Errorf("unmarshaling audit record: %w", err)
	}
	return &ca, nil
}

// List returns audit records for a customer, newest first.
func (s *Store) List(ctx context.Context, customerID string, from, to time.Time, limit int) ([]CaseAudit, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(attribute.String("customer_id", customerID)))
	defer span.End()

	query := `SELECT audit_json FROM case_audit WHERE 1=1`
	args := []interface{}{}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var results []CaseAudit
	for rows.Next() {
		var auditJSON string
		if err := rows.Scan(&auditJSON); err != nil {
			continue
		}
		var ca CaseAudit
		if err := json.Unmarshal([]byte(auditJSON), &ca); err != nil {
			continue
		}
		results = append(results, ca)
	}
	return results, rows.Err()
}

// Verify recomputes the signature over the stored record and reports
// whether it matches. A false result means the record was altered
// after it was written.
func (s *Store) Verify(ctx context.Context, caseID string) (bool, error) {
	ca, err := s.Get(ctx, caseID)
	if err != nil {
		return false, err
	}
	return s.signer.VerifyRecord(ca)
}
