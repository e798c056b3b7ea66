// Package redact removes personally identifiable information from inbound
// complaint text before it reaches any model, log, or store.
package redact

import (
	"context"
	"regexp"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/redact")

// Kind identifies a category of detected PII.
type Kind string

const (
	KindEmail Kind = "EMAIL"
	KindPhone Kind = "PHONE"
	KindIBAN  Kind = "IBAN"
	KindCard  Kind = "CARD"
)

type piiPattern struct {
	kind    Kind
	pattern *regexp.Regexp
}

// patterns are applied in a fixed order. EMAIL runs before PHONE so the
// digits of a phone-like local part are consumed by the email match, and
// IBAN runs before CARD so account numbers are not half-eaten as cards.
var patterns = []piiPattern{
	{KindEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{KindPhone, regexp.MustCompile(`\b(?:\+?\d{1,3}[\s.-]?)?(?:\(?\d{2,4}\)?[\s.-]?){2,4}\d{2,4}\b`)},
	{KindIBAN, regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`)},
	{KindCard, regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)},
}

// Placeholder returns the replacement token for a PII kind, e.g.
// "[REDACTED_EMAIL]". Placeholders contain no digits so a second pass
// over already-redacted text never matches them again.
func Placeholder(kind Kind) string {
	return "[REDACTED_" + string(kind) + "]"
}

// Redact replaces every PII match in text with its kind placeholder and
// returns the redacted text plus the kinds found, in pattern order.
// Redact is pure and idempotent: Redact(Redact(text)) == Redact(text).
func Redact(ctx context.Context, text string) (string, []Kind) {
	_, span := tracer.Start(ctx, "redact.redact")
	defer span.End()

	var kinds []Kind
	for _, p := range patterns {
		if !p.pattern.MatchString(text) {
			continue
		}
		text = p.pattern.ReplaceAllString(text, Placeholder(p.kind))
		kinds = append(kinds, p.kind)
	}

	span.SetAttributes(
		attribute.Bool("pii.detected", len(kinds) > 0),
		attribute.Int("pii.kind_count", len(kinds)),
	)
	return text, kinds
}

// RecordEvents emits the security events for a redaction pass: either
// PII_REDACTION_NOT_NEEDED, or PII_REDACTED followed by one sorted
// PII_<KIND>_REDACTED event per detected kind.
func RecordEvents(record func(string), kinds []Kind) {
	if len(kinds) == 0 {
		record("PII_REDACTION_NOT_NEEDED")
		return
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	record("PII_REDACTED")
	for _, name := range names {
		record("PII_" + name + "_REDACTED")
	}
}
