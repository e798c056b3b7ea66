package retrieval

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// allowedExtensions are the only document types the indexer accepts.
var allowedExtensions = map[string]struct{}{
	".md":  {},
	".txt": {},
}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)reveal\s+.*system\s+prompt`),
	regexp.MustCompile(`(?i)developer\s+message`),
	regexp.MustCompile(`(?i)system\s+prompt`),
	regexp.MustCompile(`(?i)tool\s*call`),
	regexp.MustCompile(`(?i)execute\s+shell`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)BEGIN\s+INJECTION`),
}

var directiveLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(system|assistant|developer)\s*:\s*`),
	regexp.MustCompile(`(?i)^\s*(ignore|override)\b`),
	regexp.MustCompile(`(?i)^\s*(execute|run)\s+`),
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// ContainsPromptInjection reports whether text matches a known
// injection pattern.
func ContainsPromptInjection(text string) bool {
	for _, re := range suspiciousPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// StripDirectiveLines removes lines that look like prompt directives or
// carry injection patterns.
func StripDirectiveLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			kept = append(kept, "")
			continue
		}
		if matchesDirectiveLine(stripped) || ContainsPromptInjection(stripped) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func matchesDirectiveLine(line string) bool {
	for _, re := range directiveLinePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// SanitizeText strips directive lines, collapses whitespace, and
// truncates at a word boundary when the result exceeds maxChars.
func SanitizeText(text string, maxChars int) string {
	cleaned := StripDirectiveLines(text)
	cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))
	if len(cleaned) > maxChars {
		cleaned = cleaned[:maxChars]
		if idx := strings.LastIndex(cleaned, " "); idx > 0 {
			cleaned = cleaned[:idx]
		}
	}
	return cleaned
}

// ChunkText splits normalized text into overlapping character windows.
func ChunkText(text string, chunkSize, chunkOverlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative")
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be smaller than chunk size")
	}

	normalized := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if normalized == "" {
		return nil, nil
	}

	var chunks []string
	start := 0
	length := len(normalized)
	for start < length {
		end := start + chunkSize
		if end > length {
			end = length
		}
		chunk := strings.TrimSpace(normalized[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= length {
			break
		}
		start = end - chunkOverlap
	}
	return chunks, nil
}

// DocumentMetadata is derived from a policy document's file name.
// refund_policy_fr.md yields doc_id REFUND_POLICY_FR, language FR,
// policy type REFUND_POLICY.
type DocumentMetadata struct {
	DocID      string
	Language   string
	PolicyType string
}

// InferDocumentMetadata derives index metadata from the document path.
func InferDocumentMetadata(path string) DocumentMetadata {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	language := "EN"
	if strings.HasSuffix(stem, "_fr") {
		language = "FR"
	}
	policyType := stem
	if idx := strings.LastIndex(stem, "_"); idx > 0 {
		policyType = stem[:idx]
	}
	return DocumentMetadata{
		DocID:      strings.ToUpper(strings.ReplaceAll(stem, "-", "_")),
		Language:   language,
		PolicyType: strings.ToUpper(policyType),
	}
}

// isAllowedSource reports whether the file may be indexed.
func isAllowedSource(path string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// isInternalSource rejects absolute paths and parent traversal in a
// stored source path.
func isInternalSource(sourcePath string) bool {
	normalized := strings.ReplaceAll(sourcePath, "\\", "/")
	if normalized == "" || strings.HasPrefix(normalized, "/") {
		return false
	}
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
