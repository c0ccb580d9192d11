// Package topic tracks the semantic drift of a conversation.
//
// The tracker keeps a running centroid of message embeddings, detects topic
// changes by cosine similarity against that centroid, scores topic fatigue
// from the message count inside the current topic, and decides when cached
// memory highlights have drifted far enough from the conversation to be
// stale. All operations are pure over a models.TopicState value; the caller
// owns persistence.
package topic

import (
	"fmt"
	"math"
	"time"

	"github.com/luminacare/checkincall/internal/models"
)

// Config tunes topic-change detection and fatigue scoring.
type Config struct {
	// ShortThreshold is the topic-change similarity threshold applied to
	// empty messages. Lower thresholds make a change harder to declare, so
	// terse replies don't spuriously register as a topic change.
	ShortThreshold float64
	// LongThreshold is the threshold applied to messages of LongMessageLen
	// characters or more. Thresholds interpolate linearly in between.
	LongThreshold float64
	// LongMessageLen is the message length at which LongThreshold applies.
	LongMessageLen int
	// CacheDriftThreshold is the anchor-vs-centroid similarity below which
	// cached highlights are considered stale.
	CacheDriftThreshold float64
	// FatigueSaturation is the message count at which fatigue reaches 1.0.
	FatigueSaturation int
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		ShortThreshold:      0.55,
		LongThreshold:       0.75,
		LongMessageLen:      120,
		CacheDriftThreshold: 0.88,
		FatigueSaturation:   20,
	}
}

// Tracker applies topic-state transitions under a Config.
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker with the given config, filling zero fields
// from the defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.ShortThreshold == 0 {
		cfg.ShortThreshold = def.ShortThreshold
	}
	if cfg.LongThreshold == 0 {
		cfg.LongThreshold = def.LongThreshold
	}
	if cfg.LongMessageLen == 0 {
		cfg.LongMessageLen = def.LongMessageLen
	}
	if cfg.CacheDriftThreshold == 0 {
		cfg.CacheDriftThreshold = def.CacheDriftThreshold
	}
	if cfg.FatigueSaturation == 0 {
		cfg.FatigueSaturation = def.FatigueSaturation
	}
	return &Tracker{cfg: cfg}
}

// ChangeThreshold returns the similarity threshold for a message of the
// given length, interpolated between ShortThreshold and LongThreshold.
func (t *Tracker) ChangeThreshold(messageLen int) float64 {
	if messageLen >= t.cfg.LongMessageLen {
		return t.cfg.LongThreshold
	}
	if messageLen <= 0 {
		return t.cfg.ShortThreshold
	}
	frac := float64(messageLen) / float64(t.cfg.LongMessageLen)
	return t.cfg.ShortThreshold + frac*(t.cfg.LongThreshold-t.cfg.ShortThreshold)
}

// Observe folds a new message embedding into the topic state and reports
// whether the topic changed. With no existing centroid the message starts a
// new topic. On a change the centroid resets to the new embedding and the
// counter resets to 1; otherwise the centroid is updated as an incremental
// mean over the messages of the current topic.
func (t *Tracker) Observe(state models.TopicState, embedding []float64, messageLen int) (models.TopicState, bool) {
	state.CurrentEmbedding = embedding

	if len(state.Centroid) == 0 {
		state.Centroid = append([]float64(nil), embedding...)
		state.MessageCount = 1
		state.TopicStartedAt = time.Now()
		state.LastSimilarity = 0
		return state, true
	}

	sim := Cosine(embedding, state.Centroid)
	state.LastSimilarity = sim

	if sim < t.ChangeThreshold(messageLen) {
		state.Centroid = append([]float64(nil), embedding...)
		state.MessageCount = 1
		state.TopicStartedAt = time.Now()
		return state, true
	}

	n := state.MessageCount + 1
	state.MessageCount = n
	centroid := make([]float64, len(state.Centroid))
	for i := range state.Centroid {
		v := 0.0
		if i < len(embedding) {
			v = embedding[i]
		}
		centroid[i] = (state.Centroid[i]*float64(n-1) + v) / float64(n)
	}
	state.Centroid = centroid
	return state, false
}

// Fatigue scores how worn the current topic is, from the message count
// inside it: 0 for a fresh topic, saturating at 1.
func (t *Tracker) Fatigue(state models.TopicState) float64 {
	if state.MessageCount <= 0 {
		return 0
	}
	score := float64(state.MessageCount) / float64(t.cfg.FatigueSaturation)
	return math.Min(score, 1)
}

// Guidance renders the fatigue score as prompt guidance, tiered so the
// model only hears about fatigue once it matters.
func Guidance(score float64) string {
	switch {
	case score < 0.25:
		return ""
	case score < 0.5:
		return "The current topic has been going for a little while. A gentle segue is fine if it feels natural."
	case score < 0.75:
		return fmt.Sprintf("Topic fatigue is building (%.0f%%). Consider bringing some freshness to the conversation.", score*100)
	default:
		return fmt.Sprintf("Topic fatigue is high (%.0f%%). Recommend steering toward a new topic the user cares about.", score*100)
	}
}

// CacheStale reports whether the cached highlights no longer represent the
// conversation: true when no anchor exists, or when the anchor has drifted
// below the configured similarity against the current centroid.
func (t *Tracker) CacheStale(state models.TopicState) bool {
	if len(state.CacheAnchor) == 0 || len(state.Centroid) == 0 {
		return true
	}
	return Cosine(state.CacheAnchor, state.Centroid) < t.cfg.CacheDriftThreshold
}

// RefreshAnchor snapshots the current centroid as the cache anchor and
// stores the freshly retrieved highlights.
func (t *Tracker) RefreshAnchor(state models.TopicState, highlights []string) models.TopicState {
	state.CacheAnchor = append([]float64(nil), state.Centroid...)
	state.CachedHighlights = highlights
	return state
}

// Cosine computes cosine similarity between two vectors. Mismatched lengths
// compare over the shorter prefix; zero vectors yield 0.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
