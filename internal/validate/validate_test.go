package validate

import (
	"strconv"
	"testing"

	"github.com/luminacare/checkincall/internal/models"
)

func scaleQuestion(min, max int) models.Question {
	return models.Question{
		ID:       "wellbeing",
		Kind:     models.QuestionKindScale,
		ScaleMin: min,
		ScaleMax: max,
	}
}

func TestValidateScale_InRange(t *testing.T) {
	q := scaleQuestion(1, 10)
	for n := 1; n <= 10; n++ {
		res := Validate(q, "I'd say "+strconv.Itoa(n)+" today")
		if !res.IsValid {
			t.Errorf("value %d: expected valid, got invalid", n)
		}
		if res.Answer != strconv.Itoa(n) {
			t.Errorf("value %d: expected answer %q, got %q", n, strconv.Itoa(n), res.Answer)
		}
	}
}

func TestValidateScale_OutOfRange(t *testing.T) {
	q := scaleQuestion(1, 10)
	res := Validate(q, "maybe 15?")
	if res.IsValid {
		t.Error("expected out-of-range value to be invalid")
	}
	if res.Answer != "15" {
		t.Errorf("expected best-effort parse '15', got %q", res.Answer)
	}
}

func TestValidateScale_NoInteger(t *testing.T) {
	q := scaleQuestion(1, 10)
	res := Validate(q, "pretty good I guess")
	if res.IsValid {
		t.Error("expected non-numeric answer to be invalid")
	}
	if res.Answer != "pretty good I guess" {
		t.Errorf("expected raw text back, got %q", res.Answer)
	}
}

func TestValidateScale_FirstIntegerWins(t *testing.T) {
	q := scaleQuestion(1, 10)
	res := Validate(q, "between 7 and 8")
	if !res.IsValid || res.Answer != "7" {
		t.Errorf("expected first integer 7, got valid=%v answer=%q", res.IsValid, res.Answer)
	}
}

func TestValidateBoolean_AffirmativeVariants(t *testing.T) {
	q := models.Question{Kind: models.QuestionKindBoolean}
	for _, raw := range []string{"yes", "Yes", "YES", "yeah", "Yep.", " sure "} {
		res := Validate(q, raw)
		if !res.IsValid {
			t.Errorf("%q: expected valid", raw)
		}
		if res.Answer != "yes" {
			t.Errorf("%q: expected normalized 'yes', got %q", raw, res.Answer)
		}
	}
}

func TestValidateBoolean_NegativeVariants(t *testing.T) {
	q := models.Question{Kind: models.QuestionKindBoolean}
	for _, raw := range []string{"no", "Nope", "not really", "NAH"} {
		res := Validate(q, raw)
		if !res.IsValid {
			t.Errorf("%q: expected valid", raw)
		}
		if res.Answer != "no" {
			t.Errorf("%q: expected normalized 'no', got %q", raw, res.Answer)
		}
	}
}

func TestValidateBoolean_OutsideVocabulary(t *testing.T) {
	q := models.Question{Kind: models.QuestionKindBoolean}
	for _, raw := range []string{"sometimes", "I forget", "42", ""} {
		res := Validate(q, raw)
		if res.IsValid {
			t.Errorf("%q: expected invalid", raw)
		}
	}
}

func TestValidateText_NonEmpty(t *testing.T) {
	q := models.Question{Kind: models.QuestionKindText}
	res := Validate(q, "  slept poorly, sore knee  ")
	if !res.IsValid {
		t.Error("expected non-empty text to be valid")
	}
	if res.Answer != "slept poorly, sore knee" {
		t.Errorf("expected trimmed answer, got %q", res.Answer)
	}
}

func TestValidateText_EmptyRequired(t *testing.T) {
	q := models.Question{Kind: models.QuestionKindText}
	if res := Validate(q, "   "); res.IsValid {
		t.Error("expected empty required text to be invalid")
	}
}

func TestValidateText_OptionalSkip(t *testing.T) {
	q := models.Question{Kind: models.QuestionKindText, Optional: true}
	for _, raw := range []string{"", "skip", "SKIP"} {
		res := Validate(q, raw)
		if !res.IsValid {
			t.Errorf("%q: expected optional skip to be valid", raw)
		}
		if res.Answer != models.NotAnswered {
			t.Errorf("%q: expected sentinel %q, got %q", raw, models.NotAnswered, res.Answer)
		}
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	q := models.Question{Kind: models.QuestionKind("poll")}
	if res := Validate(q, "whatever"); res.IsValid {
		t.Error("expected unknown kind to be invalid")
	}
}
