package triage

import (
	"regexp"
	"strings"

	"github.com/dativo-io/recourse/internal/complaint"
)

var frenchHints = map[string]struct{}{
	"bonjour": {}, "merci": {}, "commande": {}, "remboursement": {},
	"defectueux": {}, "retard": {}, "livraison": {}, "echange": {},
	"escalade": {}, "probleme": {},
}

var englishHints = map[string]struct{}{
	"hello": {}, "thanks": {}, "order": {}, "refund": {},
	"defective": {}, "delivery": {}, "delay": {}, "exchange": {},
	"issue": {}, "support": {},
}

var (
	wordRe         = regexp.MustCompile(`[a-zà-ÿ0-9']+`)
	frenchAccentRe = regexp.MustCompile(`[àâçéèêëîïôûùüÿœ]`)
	letterRunRe    = regexp.MustCompile(`\p{L}+`)
)

// DetectLanguage scores the text against FR and EN hint words, with
// accented characters counting toward FR. Ties fall back to the default.
func DetectLanguage(text string, fallback complaint.Language) complaint.Language {
	lowered := strings.ToLower(text)
	tokens := map[string]struct{}{}
	for _, tok := range wordRe.FindAllString(lowered, -1) {
		tokens[tok] = struct{}{}
	}

	var frScore, enScore int
	for tok := range tokens {
		if _, ok := frenchHints[tok]; ok {
			frScore++
		}
		if _, ok := englishHints[tok]; ok {
			enScore++
		}
	}
	if frenchAccentRe.MatchString(lowered) {
		frScore++
	}

	if frScore > enScore {
		return complaint.LanguageFR
	}
	if enScore > frScore {
		return complaint.LanguageEN
	}
	return fallback
}

// letterTokenCount counts word tokens; detection is skipped for texts
// with fewer than three.
func letterTokenCount(text string) int {
	return len(letterRunRe.FindAllString(text, -1))
}

func normalizeLanguage(raw string) (complaint.Language, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FR", "FRENCH":
		return complaint.LanguageFR, true
	case "EN", "ENGLISH":
		return complaint.LanguageEN, true
	}
	return "", false
}

// ChooseResponseLanguage picks the reply language: detected language
// first, then the remembered preference, then EN. Each path records a
// language event.
func ChooseResponseLanguage(detected complaint.Language, preferred string, recordEvent func(string)) complaint.Language {
	if detected == complaint.LanguageFR || detected == complaint.LanguageEN {
		recordEvent("LANGUAGE_DETECTED_" + string(detected))
		return detected
	}
	if lang, ok := normalizeLanguage(preferred); ok {
		recordEvent("LANGUAGE_FALLBACK_TO_MEMORY")
		recordEvent("LANGUAGE_SELECTED_" + string(lang))
		return lang
	}
	recordEvent("LANGUAGE_DEFAULTED_EN")
	return complaint.LanguageEN
}
