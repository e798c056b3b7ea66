// Package retrieval indexes internal policy documents in SQLite and
// serves sanitized snippets for context enrichment. Both indexing and
// retrieval refuse content that looks like prompt injection.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/retrieval")

// Indexing and retrieval limits.
const (
	DefaultChunkSize     = 500
	DefaultChunkOverlap  = 80
	DefaultMaxChunkChars = 700
	maxExcerptChars      = 400
	maxQueryChars        = 300
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS policy_chunks (
    chunk_id TEXT PRIMARY KEY,
    doc_id TEXT NOT NULL,
    language TEXT NOT NULL,
    policy_type TEXT NOT NULL,
    source_path TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    snippet TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_chunks_language ON policy_chunks(language);
CREATE INDEX IF NOT EXISTS idx_policy_chunks_type ON policy_chunks(policy_type);
`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS policy_fts USING fts5(
    snippet,
    content=policy_chunks,
    content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS policy_ai AFTER INSERT ON policy_chunks BEGIN
    INSERT INTO policy_fts(rowid, snippet) VALUES (new.rowid, new.snippet);
END;

CREATE TRIGGER IF NOT EXISTS policy_ad AFTER DELETE ON policy_chunks BEGIN
    INSERT INTO policy_fts(policy_fts, rowid, snippet) VALUES ('delete', old.rowid, old.snippet);
END;
`

// Snippet is one sanitized policy excerpt returned to the pipeline.
type Snippet struct {
	DocID      string  `json:"doc_id"`
	Language   string  `json:"language"`
	PolicyType string  `json:"policy_type"`
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// BuildStats summarizes an index build.
type BuildStats struct {
	DocumentsSeen int
	IndexedChunks int
	SkippedChunks int
}

// Index is a SQLite-backed policy snippet index. FTS5 is optional; if
// the SQLite build doesn't support it, matching degrades to LIKE.
type Index struct {
	db      *sql.DB
	hasFTS5 bool
}

// NewIndex opens (or creates) the policy index database.
func NewIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening policy index: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), indexSchema); err != nil {
		return nil, fmt.Errorf("creating policy index schema: %w", err)
	}
	hasFTS5 := true
	if _, err := db.ExecContext(context.Background(), ftsSchema); err != nil {
		hasFTS5 = false
	}
	return &Index{db: db, hasFTS5: hasFTS5}, nil
}

// Close releases the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Build walks docsDir, chunks and sanitizes every allowed document, and
// replaces the index contents. Chunks carrying injection patterns are
// skipped and counted.
func (ix *Index) Build(ctx context.Context, docsDir string) (*BuildStats, error) {
	ctx, span := tracer.Start(ctx, "retrieval.build_index",
		trace.WithAttributes(attribute.String("docs_dir", docsDir)))
	defer span.End()

	if _, err := os.Stat(docsDir); err != nil {
		return nil, fmt.Errorf("documents directory: %w", err)
	}

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM policy_chunks`); err != nil {
		return nil, fmt.Errorf("clearing policy index: %w", err)
	}

	stats := &BuildStats{}
	err := filepath.WalkDir(docsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isAllowedSource(path) {
			return nil
		}
		stats.DocumentsSeen++

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading document %s: %w", path, err)
		}
		meta := InferDocumentMetadata(path)
		relSource, err := filepath.Rel(docsDir, path)
		if err != nil {
			relSource = filepath.Base(path)
		}
		relSource = filepath.ToSlash(relSource)

		chunks, err := ChunkText(string(raw), DefaultChunkSize, DefaultChunkOverlap)
		if err != nil {
			return fmt.Errorf("chunking document %s: %w", path, err)
		}
		for chunkIndex, chunk := range chunks {
			if ContainsPromptInjection(chunk) {
				stats.SkippedChunks++
				log.Warn().Str("source_path", relSource).Int("chunk_index", chunkIndex).
					Msg("skipped suspicious chunk during indexing")
				continue
			}
			sanitized := SanitizeText(chunk, DefaultMaxChunkChars)
			if sanitized == "" || ContainsPromptInjection(sanitized) {
				stats.SkippedChunks++
				continue
			}
			chunkID := fmt.Sprintf("%s::%d", meta.DocID, chunkIndex)
			_, err := ix.db.ExecContext(ctx,
				`INSERT OR REPLACE INTO policy_chunks
				 (chunk_id, doc_id, language, policy_type, source_path, chunk_index, snippet)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				chunkID, meta.DocID, meta.Language, meta.PolicyType, relSource, chunkIndex, sanitized)
			if err != nil {
				return fmt.Errorf("indexing chunk %s: %w", chunkID, err)
			}
			stats.IndexedChunks++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("retrieval.documents_seen", stats.DocumentsSeen),
		attribute.Int("retrieval.indexed_chunks", stats.IndexedChunks),
		attribute.Int("retrieval.skipped_chunks", stats.SkippedChunks),
	)
	return stats, nil
}

// Retrieve returns up to topK sanitized snippets in the given language,
// optionally filtered by policy type, ranked by keyword overlap with
// the query.
func (ix *Index) Retrieve(ctx context.Context, query, language, policyType string, topK int) ([]Snippet, error) {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(
			attribute.String("retrieval.language", language),
			attribute.String("retrieval.policy_type", policyType),
			attribute.Int("retrieval.top_k", topK),
		))
	defer span.End()

	sanitizedQuery := SanitizeText(query, maxQueryChars)
	if sanitizedQuery == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 4
	}
	fetchK := topK * 3

	candidates, err := ix.matchCandidates(ctx, sanitizedQuery, strings.ToUpper(language), strings.ToUpper(policyType), fetchK)
	if err != nil {
		return nil, err
	}

	var out []Snippet
	for i := range candidates {
		c := &candidates[i]
		if !isInternalSource(c.SourcePath) {
			log.Warn().Str("source_path", c.SourcePath).Msg("skipped non-internal source in retrieval")
			continue
		}
		snippet := SanitizeText(c.Snippet, maxExcerptChars)
		if snippet == "" || ContainsPromptInjection(snippet) {
			continue
		}
		c.Snippet = snippet
		c.Score = keywordOverlap(sanitizedQuery, snippet)
		out = append(out, *c)
		if len(out) >= fetchK {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	span.SetAttributes(attribute.Int("retrieval.returned", len(out)))
	return out, nil
}

func (ix *Index) matchCandidates(ctx context.Context, query, language, policyType string, fetchK int) ([]Snippet, error) {
	var sqlQuery string
	var args []interface{}

	if ix.hasFTS5 {
		match := ftsMatchExpr(query)
		if match == "" {
			return nil, nil
		}
		sqlQuery = `SELECT c.doc_id, c.language, c.policy_type, c.source_path, c.chunk_index, c.snippet
		            FROM policy_chunks c
		            JOIN policy_fts f ON c.rowid = f.rowid
		            WHERE f.policy_fts MATCH ? AND c.language = ?`
		args = []interface{}{match, language}
	} else {
		sqlQuery = `SELECT doc_id, language, policy_type, source_path, chunk_index, snippet
		            FROM policy_chunks
		            WHERE language = ? AND snippet LIKE ?`
		args = []interface{}{language, "%" + firstToken(query) + "%"}
	}
	if policyType != "" {
		sqlQuery += ` AND policy_type = ?`
		args = append(args, policyType)
	}
	if ix.hasFTS5 {
		sqlQuery += ` ORDER BY rank`
	}
	sqlQuery += ` LIMIT ?`
	args = append(args, fetchK)

	rows, err := ix.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying policy index: %w", err)
	}
	defer rows.Close()

	var results []Snippet
	for rows.Next() {
		var s Snippet
		if err := rows.Scan(&s.DocID, &s.Language, &s.PolicyType, &s.SourcePath, &s.ChunkIndex, &s.Snippet); err != nil {
			continue
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// ftsMatchExpr builds a safe OR query from the alphanumeric tokens of
// free text, quoting each token so user input cannot alter FTS syntax.
func ftsMatchExpr(query string) string {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func firstToken(query string) string {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return query
	}
	return tokens[0]
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && !(r >= 0x00C0 && r <= 0x024F)
	})
	var tokens []string
	for _, f := range fields {
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordOverlap is the fraction of query tokens present in the text.
func keywordOverlap(query, text string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		textTokens[tok] = struct{}{}
	}
	var hits int
	for _, tok := range queryTokens {
		if _, ok := textTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}
