package flow

import (
	"strings"
	"unicode"
)

// Length bucket boundaries, in characters.
const (
	shortMessageLen = 40
	longMessageLen  = 160
)

// Classification is the pure intent read of one user message. It exists
// only to gate retrieval cost and is never persisted.
type Classification struct {
	ShouldRetrieve bool
	LengthBucket   string // "short" | "medium" | "long"
	IsContinuation bool
	IsGreeting     bool
}

// continuationReplies are acknowledgements that carry no retrievable
// content of their own.
var continuationReplies = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "no": true, "nope": true,
	"ok": true, "okay": true, "sure": true, "right": true, "mhm": true,
	"uh huh": true, "i see": true, "go on": true, "alright": true,
	"thanks": true, "thank you": true,
}

// greetingOpeners mark small talk that should not trigger retrieval.
var greetingOpeners = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"how are you", "how's it going",
}

// ClassifyIntent classifies the latest user message. Short continuation
// replies and greetings skip memory retrieval; everything else retrieves.
func ClassifyIntent(message string) Classification {
	trimmed := strings.TrimSpace(message)
	normalized := strings.TrimRightFunc(strings.ToLower(trimmed), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})

	c := Classification{LengthBucket: lengthBucket(len(trimmed))}
	c.IsContinuation = continuationReplies[normalized] || len(normalized) < 4
	for _, opener := range greetingOpeners {
		if normalized == opener || strings.HasPrefix(normalized, opener+" ") {
			c.IsGreeting = true
			break
		}
	}
	c.ShouldRetrieve = !c.IsContinuation && !c.IsGreeting
	return c
}

func lengthBucket(n int) string {
	switch {
	case n < shortMessageLen:
		return "short"
	case n < longMessageLen:
		return "medium"
	default:
		return "long"
	}
}
