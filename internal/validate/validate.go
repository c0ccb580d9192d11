// Package validate checks raw spoken answers against a question's expected
// shape. Validation is pure: malformed input always yields a structured
// invalid result, never an error.
package validate

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/luminacare/checkincall/internal/models"
)

// Affirmative and negative vocabularies for boolean questions. Matching is
// case-insensitive after trimming surrounding punctuation.
var (
	affirmatives = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"definitely": true, "absolutely": true, "correct": true, "right": true,
		"i did": true, "i have": true, "of course": true,
	}
	negatives = map[string]bool{
		"no": true, "nope": true, "nah": true, "not really": true,
		"never": true, "i did not": true, "i didn't": true, "i haven't": true,
	}
)

// Validate checks a raw answer against the question's kind and returns the
// validity flag plus a normalized answer. For invalid scale answers the
// normalized answer holds the best-effort parse, or the raw text when no
// integer was found.
func Validate(q models.Question, raw string) models.ValidationResult {
	switch q.Kind {
	case models.QuestionKindScale:
		return validateScale(q, raw)
	case models.QuestionKindBoolean:
		return validateBoolean(raw)
	case models.QuestionKindText:
		return validateText(q, raw)
	default:
		return models.ValidationResult{IsValid: false, Answer: strings.TrimSpace(raw)}
	}
}

// validateScale extracts the first integer in the text and accepts it when
// it falls within the question's bounds.
func validateScale(q models.Question, raw string) models.ValidationResult {
	n, found := firstInteger(raw)
	if !found {
		return models.ValidationResult{IsValid: false, Answer: strings.TrimSpace(raw)}
	}
	parsed := strconv.Itoa(n)
	if n < q.ScaleMin || n > q.ScaleMax {
		return models.ValidationResult{IsValid: false, Answer: parsed}
	}
	return models.ValidationResult{IsValid: true, Answer: parsed}
}

// validateBoolean matches against the affirmative/negative vocabulary and
// normalizes to "yes" or "no". Anything outside the vocabulary is invalid.
func validateBoolean(raw string) models.ValidationResult {
	normalized := normalizeToken(raw)
	if affirmatives[normalized] {
		return models.ValidationResult{IsValid: true, Answer: "yes"}
	}
	if negatives[normalized] {
		return models.ValidationResult{IsValid: true, Answer: "no"}
	}
	return models.ValidationResult{IsValid: false, Answer: normalized}
}

// validateText accepts any non-empty answer. Optional questions may be
// skipped, which records the not-answered sentinel as a valid answer.
func validateText(q models.Question, raw string) models.ValidationResult {
	trimmed := strings.TrimSpace(raw)
	if q.Optional && (trimmed == "" || strings.EqualFold(trimmed, "skip")) {
		return models.ValidationResult{IsValid: true, Answer: models.NotAnswered}
	}
	if trimmed == "" {
		return models.ValidationResult{IsValid: false, Answer: ""}
	}
	return models.ValidationResult{IsValid: true, Answer: trimmed}
}

// firstInteger scans the text for the first run of digits, honoring an
// immediately preceding minus sign.
func firstInteger(s string) (int, bool) {
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if !unicode.IsDigit(runes[i]) {
			continue
		}
		start := i
		for i < len(runes) && unicode.IsDigit(runes[i]) {
			i++
		}
		digits := string(runes[start:i])
		if start > 0 && runes[start-1] == '-' {
			digits = "-" + digits
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			// Overflow on absurdly long digit runs; treat as not found.
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// normalizeToken lowercases and strips surrounding punctuation and space.
func normalizeToken(s string) string {
	return strings.TrimFunc(strings.ToLower(strings.TrimSpace(s)), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
