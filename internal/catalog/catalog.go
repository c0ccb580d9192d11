// Package catalog assembles the ordered question list for a health check.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luminacare/checkincall/internal/models"
)

// ProfileSource is the slice of the store the builder needs.
type ProfileSource interface {
	GetCareProfile(userID string) (*models.CareProfile, error)
}

// Builder builds question catalogs from a user's care profile.
type Builder struct {
	profiles ProfileSource
}

// NewBuilder creates a catalog builder over a profile source.
func NewBuilder(profiles ProfileSource) *Builder {
	return &Builder{profiles: profiles}
}

// FixedQuestions returns the fixed prefix every health check starts with.
func FixedQuestions() []models.Question {
	return []models.Question{
		{
			ID:       "wellbeing",
			Prompt:   "On a scale from 1 to 10, how are you feeling overall today?",
			Category: models.CategoryGeneral,
			Kind:     models.QuestionKindScale,
			ScaleMin: 1,
			ScaleMax: 10,
		},
		{
			ID:       "symptoms",
			Prompt:   "Have you noticed any new symptoms or discomfort since we last spoke?",
			Category: models.CategorySymptom,
			Kind:     models.QuestionKindText,
		},
		{
			ID:       "sleep",
			Prompt:   "On a scale from 1 to 10, how well did you sleep last night?",
			Category: models.CategoryGeneral,
			Kind:     models.QuestionKindScale,
			ScaleMin: 1,
			ScaleMax: 10,
		},
		{
			ID:       "notes",
			Prompt:   "Is there anything else about your health you'd like to mention? You can say skip if not.",
			Category: models.CategoryGeneral,
			Kind:     models.QuestionKindText,
			Optional: true,
		},
	}
}

// Build returns the ordered catalog for a user: the fixed prefix, then one
// free-text question per active condition and one adherence question per
// active medication, preserving the profile's order. A failed profile
// lookup must not abort call handling, so the builder falls back to the
// fixed prefix alone.
func (b *Builder) Build(ctx context.Context, userID string) []models.Question {
	questions := FixedQuestions()

	profile, err := b.profiles.GetCareProfile(userID)
	if err != nil {
		slog.Warn("Builder.Build: care profile lookup failed, using fixed questions only", "error", err, "userID", userID)
		return questions
	}

	for _, c := range profile.Conditions {
		questions = append(questions, models.Question{
			ID:              "condition_" + c.ID,
			Prompt:          fmt.Sprintf("How has your %s been lately?", c.Name),
			Category:        models.CategoryCondition,
			Kind:            models.QuestionKindText,
			RelatedEntityID: c.ID,
		})
	}
	for _, m := range profile.Medications {
		questions = append(questions, models.Question{
			ID:              "medication_" + m.ID,
			Prompt:          fmt.Sprintf("Have you been taking your %s as prescribed?", m.Name),
			Category:        models.CategoryMedication,
			Kind:            models.QuestionKindBoolean,
			RelatedEntityID: m.ID,
		})
	}

	slog.Debug("Builder.Build: catalog assembled", "userID", userID,
		"total", len(questions), "conditions", len(profile.Conditions), "medications", len(profile.Medications))
	return questions
}
