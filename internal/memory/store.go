// Package memory persists minimized long-term case outcomes in SQLite.
// Only structured, non-sensitive fields are stored; raw email content is
// rejected at the write boundary.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/memory")

var (
	// ErrRawEmailKey is returned when a write payload carries raw email
	// content under a denied key.
	ErrRawEmailKey = errors.New("raw email content is not allowed in memory")
	// ErrCaseNotFound is returned when a case record does not exist.
	ErrCaseNotFound = errors.New("case memory not found")
)

// deniedKeys are attribute keys that must never reach the store,
// matched case-insensitively at any nesting depth.
var deniedKeys = map[string]struct{}{
	"email_body":     {},
	"raw_email":      {},
	"raw_email_body": {},
}

const schema = `
CREATE TABLE IF NOT EXISTS customers_memory (
    customer_id TEXT PRIMARY KEY,
    preferred_language TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS cases_memory (
    case_id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    complaint_type TEXT NOT NULL DEFAULT '',
    decision TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    hitl_required INTEGER NOT NULL DEFAULT 0,
    compensation_value REAL NOT NULL DEFAULT 0,
    compensation_currency TEXT NOT NULL DEFAULT '',
    case_summary TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_memory_customer ON cases_memory(customer_id);
CREATE INDEX IF NOT EXISTS idx_cases_memory_created ON cases_memory(created_at);
`

// CaseMemory is the minimized long-term record of a finalized case.
type CaseMemory struct {
	CaseID               string         `json:"case_id"`
	CustomerID           string         `json:"customer_id"`
	ComplaintType        string         `json:"complaint_type"`
	Decision             string         `json:"decision"`
	Status               string         `json:"status"`
	HITLRequired         bool           `json:"hitl_required"`
	CompensationValue    float64        `json:"compensation_value"`
	CompensationCurrency string         `json:"compensation_currency"`
	CaseSummary          string         `json:"case_summary"`
	Attributes           map[string]any `json:"attributes"`
	CreatedAt            time.Time      `json:"created_at"`
}

// CustomerMemory is the per-customer profile the pipeline consults
// before triage.
type CustomerMemory struct {
	CustomerID            string       `json:"customer_id"`
	PreferredLanguage     string       `json:"preferred_language"`
	NinetyDayCompensation float64      `json:"ninety_day_compensation_total"`
	Cases                 []CaseMemory `json:"cases"`
}

// Store persists case memory in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the memory database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ValidateAttributes rejects payloads carrying raw email content.
func ValidateAttributes(attrs map[string]any) error {
	for key, value := range attrs {
		if _, denied := deniedKeys[strings.ToLower(key)]; denied {
			return fmt.Errorf("%w: key %q", ErrRawEmailKey, key)
		}
		if nested, ok := value.(map[string]any); ok {
			if err := ValidateAttributes(nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCase persists a finalized case. Attribute keys carrying raw
// email content are rejected before anything touches the database.
func (s *Store) RecordCase(ctx context.Context, cm *CaseMemory) error {
	ctx, span := tracer.Start(ctx, "memory.record_case",
		trace.WithAttributes(
			attribute.String("case_id", cm.CaseID),
			attribute.String("customer_id", cm.CustomerID),
			attribute.String("decision", cm.Decision),
		))
	defer span.End()

	if cm.CaseID == "" || cm.CustomerID == "" {
		return fmt.Errorf("case memory requires case_id and customer_id")
	}
	if err := ValidateAttributes(cm.Attributes); err != nil {
		writesDenied.Add(ctx, 1)
		return err
	}
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = time.Now().UTC()
	}
	attrsJSON, _ := json.Marshal(cm.Attributes)
	if cm.Attributes == nil {
		attrsJSON = []byte("{}")
	}

	err := s.writeWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cases_memory (
				case_id, customer_id, complaint_type, decision, status, hitl_required,
				compensation_value, compensation_currency, case_summary, attributes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(case_id) DO UPDATE SET
				decision = excluded.decision,
				status = excluded.status,
				hitl_required = excluded.hitl_required,
				compensation_value = excluded.compensation_value,
				compensation_currency = excluded.compensation_currency,
				case_summary = excluded.case_summary,
				attributes = excluded.attributes`,
			cm.CaseID, cm.CustomerID, cm.ComplaintType, cm.Decision, cm.Status,
			boolToInt(cm.HITLRequired), cm.CompensationValue, cm.CompensationCurrency,
			cm.CaseSummary, string(attrsJSON), cm.CreatedAt)
		if err != nil {
			return fmt.Errorf("writing case memory: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	writesTotal.Add(ctx, 1)
	recordCasesGauge(ctx, s)
	return nil
}

// SetPreferredLanguage upserts the customer's response language.
func (s *Store) SetPreferredLanguage(ctx context.Context, customerID, language string) error {
	ctx, span := tracer.Start(ctx, "memory.set_preferred_language",
		trace.WithAttributes(attribute.String("customer_id", customerID)))
	defer span.End()

	return s.writeWithRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO customers_memory (customer_id, preferred_language, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT(customer_id) DO UPDATE SET
				preferred_language = excluded.preferred_language,
				updated_at = excluded.updated_at`,
			customerID, strings.ToUpper(language), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("writing preferred language: %w", err)
		}
		return nil
	})
}

// PreferredLanguage returns the remembered response language for a
// customer, or "" when none is recorded.
func (s *Store) PreferredLanguage(ctx context.Context, customerID string) (string, error) {
	ctx, span := tracer.Start(ctx, "memory.preferred_language",
		trace.WithAttributes(attribute.String("customer_id", customerID)))
	defer span.End()

	var lang string
	err := s.db.QueryRowContext(ctx,
		`SELECT preferred_language FROM customers_memory WHERE customer_id = ?`,
		customerID).Scan(&lang)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying preferred language: %w", err)
	}
	readsTotal.Add(ctx, 1)
	return lang, nil
}

// NinetyDayCompensationTotal sums compensation issued to the customer
// over the trailing 90 days.
func (s *Store) NinetyDayCompensationTotal(ctx context.Context, customerID string) (float64, error) {
	ctx, span := tracer.Start(ctx, "memory.ninety_day_compensation",
		trace.WithAttributes(attribute.String("customer_id", customerID)))
	defer span.End()

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(compensation_value), 0) FROM cases_memory
		 WHERE customer_id = ? AND created_at > ?`,
		customerID, cutoff).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing compensation: %w", err)
	}
	span.SetAttributes(attribute.Float64("memory.compensation_total", total))
	return total, nil
}

// GetCase returns a single case memory record.
func (s *Store) GetCase(ctx context.Context, caseID string) (*CaseMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.get_case",
		trace.WithAttributes(attribute.String("case_id", caseID)))
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT case_id, customer_id, complaint_type, decision, status, hitl_required,
		        compensation_value, compensation_currency, case_summary, attributes, created_at
		 FROM cases_memory WHERE case_id = ?`, caseID)
	cm, err := scanCase(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying case memory: %w", err)
	}
	return cm, nil
}

// CustomerCases returns a customer's case records, newest first.
func (s *Store) CustomerCases(ctx context.Context, customerID string, limit int) ([]CaseMemory, error) {
	ctx, span := tracer.Start(ctx, "memory.customer_cases",
		trace.WithAttributes(attribute.String("customer_id", customerID)))
	defer span.End()

	query := `SELECT case_id, customer_id, complaint_type, decision, status, hitl_required,
	                 compensation_value, compensation_currency, case_summary, attributes, created_at
	          FROM cases_memory WHERE customer_id = ?
	          ORDER BY created_at DESC`
	args := []interface{}{customerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying customer cases: %w", err)
	}
	defer rows.Close()

	var results []CaseMemory
	for rows.Next() {
		cm, err := scanCase(rows.Scan)
		if err != nil {
			continue
		}
		results = append(results, *cm)
	}
	readsTotal.Add(ctx, 1)
	return results, rows.Err()
}

// CustomerView assembles the customer profile exposed over the API:
// preferred language, trailing compensation total, and case records.
func (s *Store) CustomerView(ctx context.Context, customerID string, limit int) (*CustomerMemory, error) {
	lang, err := s.PreferredLanguage(ctx, customerID)
	if err != nil {
		return nil, err
	}
	total, err := s.NinetyDayCompensationTotal(ctx, customerID)
	if err != nil {
		return nil, err
	}
	cases, err := s.CustomerCases(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	return &CustomerMemory{
		CustomerID:            customerID,
		PreferredLanguage:     lang,
		NinetyDayCompensation: total,
		Cases:                 cases,
	}, nil
}

// PurgeExpired deletes case records older than retentionDays.
// Returns the number of deleted records.
func (s *Store) PurgeExpired(ctx context.Context, retentionDays int) (int64, error) {
	ctx, span := tracer.Start(ctx, "memory.purge_expired",
		trace.WithAttributes(attribute.Int("retention_days", retentionDays)))
	defer span.End()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cases_memory WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging expired case memory: %w", err)
	}
	affected, _ := result.RowsAffected()
	span.SetAttributes(attribute.Int64("memory.purged", affected))
	if affected > 0 {
		purgedTotal.Add(ctx, affected)
		recordCasesGauge(ctx, s)
	}
	return affected, nil
}

// writeWithRetry runs op with retries on SQLite busy/locked.
func (s *Store) writeWithRetry(ctx context.Context, op func(context.Context) error) error {
	const maxRetries = 15
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepRetry(ctx, attempt); err != nil {
				return err
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isSQLiteLocked(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func sleepRetry(ctx context.Context, attempt int) error {
	backoff := time.Duration(attempt*attempt) * 20 * time.Millisecond
	if backoff > 250*time.Millisecond {
		backoff = 250 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(backoff):
		return nil
	}
}

// isSQLiteLocked reports whether the error is SQLite busy/locked (retryable).
func isSQLiteLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "locked")
}

func (s *Store) countCases(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases_memory`).Scan(&n)
	return n, err
}

// recordCasesGauge sets memory.cases.count to the current total so the
// gauge reflects actual count after writes and purges.
func recordCasesGauge(ctx context.Context, s *Store) {
	count, err := s.countCases(ctx)
	if err != nil {
		return
	}
	casesGauge.Record(ctx, count)
}

func scanCase(scan func(dest ...any) error) (*CaseMemory, error) {
	var cm CaseMemory
	var hitl int
	var attrsJSON string
	var createdAt interface{}
	if err := scan(
		&cm.CaseID, &cm.CustomerID, &cm.ComplaintType, &cm.Decision, &cm.Status,
		&hitl, &cm.CompensationValue, &cm.CompensationCurrency, &cm.CaseSummary,
		&attrsJSON, &createdAt,
	); err != nil {
		return nil, err
	}
	cm.HITLRequired = hitl != 0
	if t, ok := scanTime(createdAt); ok {
		cm.CreatedAt = t
	}
	_ = json.Unmarshal([]byte(attrsJSON), &cm.Attributes)
	if cm.Attributes == nil {
		cm.Attributes = map[string]any{}
	}
	return &cm, nil
}

// scanTime scans a column that may be time.Time or string (SQLite returns datetime as string).
func scanTime(v interface{}) (t time.Time, ok bool) {
	if v == nil {
		return time.Time{}, false
	}
	switch val := v.(type) {
	case time.Time:
		return val, true
	case []byte:
		parsed, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", string(val))
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, string(val))
		}
		if err == nil {
			return parsed, true
		}
	case string:
		parsed, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", val)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, val)
		}
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
