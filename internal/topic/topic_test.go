package topic

import (
	"math"
	"testing"

	"github.com/luminacare/checkincall/internal/models"
)

func TestObserve_NoCentroidIsNewTopic(t *testing.T) {
	tr := NewTracker(Config{})
	state, changed := tr.Observe(models.TopicState{}, []float64{0.2, 0.8}, 40)
	if !changed {
		t.Error("expected first observation to register a topic change")
	}
	if state.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", state.MessageCount)
	}
	if len(state.Centroid) != 2 || state.Centroid[1] != 0.8 {
		t.Errorf("expected centroid to equal first embedding, got %v", state.Centroid)
	}
	if state.TopicStartedAt.IsZero() {
		t.Error("expected topic start time to be set")
	}
}

func TestObserve_TopicChangeResetsCentroid(t *testing.T) {
	tr := NewTracker(Config{})
	state, _ := tr.Observe(models.TopicState{}, []float64{1, 0}, 200)
	// Orthogonal embedding: similarity 0, well under any threshold.
	state, changed := tr.Observe(state, []float64{0, 1}, 200)
	if !changed {
		t.Error("expected orthogonal embedding to register a topic change")
	}
	if state.MessageCount != 1 {
		t.Errorf("expected counter reset to 1, got %d", state.MessageCount)
	}
	if state.Centroid[0] != 0 || state.Centroid[1] != 1 {
		t.Errorf("expected centroid reset to new embedding, got %v", state.Centroid)
	}
}

// The centroid after n same-topic messages must equal the arithmetic mean of
// their embeddings.
func TestObserve_CentroidIsArithmeticMean(t *testing.T) {
	tr := NewTracker(Config{})
	embeddings := [][]float64{
		{1.0, 0.1, 0.0},
		{0.9, 0.2, 0.05},
		{0.95, 0.15, -0.05},
		{1.05, 0.05, 0.02},
		{0.98, 0.12, 0.01},
	}

	var state models.TopicState
	for i, emb := range embeddings {
		var changed bool
		state, changed = tr.Observe(state, emb, 80)
		if i > 0 && changed {
			t.Fatalf("message %d unexpectedly registered a topic change (sim=%f)", i, state.LastSimilarity)
		}
	}

	mean := make([]float64, 3)
	for _, emb := range embeddings {
		for i, v := range emb {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(embeddings))
	}

	for i := range mean {
		if math.Abs(state.Centroid[i]-mean[i]) > 1e-9 {
			t.Errorf("centroid[%d] = %f, want mean %f", i, state.Centroid[i], mean[i])
		}
	}
	if state.MessageCount != len(embeddings) {
		t.Errorf("expected message count %d, got %d", len(embeddings), state.MessageCount)
	}
}

func TestChangeThreshold_Interpolation(t *testing.T) {
	tr := NewTracker(Config{ShortThreshold: 0.5, LongThreshold: 0.7, LongMessageLen: 100})
	if got := tr.ChangeThreshold(0); got != 0.5 {
		t.Errorf("len 0: got %f, want 0.5", got)
	}
	if got := tr.ChangeThreshold(100); got != 0.7 {
		t.Errorf("len 100: got %f, want 0.7", got)
	}
	if got := tr.ChangeThreshold(500); got != 0.7 {
		t.Errorf("len 500: got %f, want clamp to 0.7", got)
	}
	mid := tr.ChangeThreshold(50)
	if math.Abs(mid-0.6) > 1e-9 {
		t.Errorf("len 50: got %f, want 0.6", mid)
	}
}

func TestCacheStale_Boundary(t *testing.T) {
	anchor := []float64{1, 0}
	centroid := []float64{0.9, 0.3}
	sim := Cosine(anchor, centroid)

	// Exactly at the threshold: not stale.
	tr := NewTracker(Config{CacheDriftThreshold: sim})
	state := models.TopicState{CacheAnchor: anchor, Centroid: centroid}
	if tr.CacheStale(state) {
		t.Error("similarity exactly at threshold must not be stale")
	}

	// Just below the threshold: stale.
	tr = NewTracker(Config{CacheDriftThreshold: sim + 1e-9})
	if !tr.CacheStale(state) {
		t.Error("similarity below threshold must be stale")
	}
}

func TestCacheStale_NoAnchor(t *testing.T) {
	tr := NewTracker(Config{})
	state := models.TopicState{Centroid: []float64{1, 0}}
	if !tr.CacheStale(state) {
		t.Error("missing anchor must read as stale")
	}
}

func TestRefreshAnchor(t *testing.T) {
	tr := NewTracker(Config{})
	state := models.TopicState{Centroid: []float64{0.5, 0.5}}
	state = tr.RefreshAnchor(state, []string{"enjoys crosswords"})
	if len(state.CacheAnchor) != 2 || state.CacheAnchor[0] != 0.5 {
		t.Errorf("expected anchor snapshot of centroid, got %v", state.CacheAnchor)
	}
	if len(state.CachedHighlights) != 1 || state.CachedHighlights[0] != "enjoys crosswords" {
		t.Errorf("unexpected cached highlights: %v", state.CachedHighlights)
	}
	if tr.CacheStale(state) {
		t.Error("freshly anchored cache must not be stale")
	}
}

func TestFatigue_SaturatesAtOne(t *testing.T) {
	tr := NewTracker(Config{FatigueSaturation: 4})
	state := models.TopicState{MessageCount: 2}
	if got := tr.Fatigue(state); got != 0.5 {
		t.Errorf("expected fatigue 0.5, got %f", got)
	}
	state.MessageCount = 40
	if got := tr.Fatigue(state); got != 1 {
		t.Errorf("expected fatigue clamped to 1, got %f", got)
	}
	if got := tr.Fatigue(models.TopicState{}); got != 0 {
		t.Errorf("expected zero fatigue for empty state, got %f", got)
	}
}

func TestGuidance_Tiers(t *testing.T) {
	if g := Guidance(0.1); g != "" {
		t.Errorf("expected no guidance below 0.25, got %q", g)
	}
	if g := Guidance(0.3); g == "" {
		t.Error("expected mild guidance in 0.25-0.5 tier")
	}
	mid := Guidance(0.6)
	high := Guidance(0.9)
	if mid == "" || high == "" || mid == high {
		t.Errorf("expected distinct guidance for 0.6 and 0.9 tiers, got %q / %q", mid, high)
	}
}

func TestCosine_EdgeCases(t *testing.T) {
	if got := Cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Errorf("zero vector: expected 0, got %f", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-12 {
		t.Errorf("identical vectors: expected 1, got %f", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: expected 0, got %f", got)
	}
}
