package classifier

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyHand_CleanWhenNoResidualShape(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.ClassifyHand(context.Background(), "1", "Alice: folds\nBob: checks\n")
	if res.Classification != Clean {
		t.Errorf("expected clean, got %s (residuals %v)", res.Classification, res.Residuals)
	}
}

func TestClassifyHand_ResidualHexToken(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.ClassifyHand(context.Background(), "1", "Alice: folds\na1b2c3: checks\n")
	if res.Classification != Residual {
		t.Fatalf("expected residual, got %s", res.Classification)
	}
	if len(res.Residuals) != 1 || res.Residuals[0] != "a1b2c3" {
		t.Errorf("unexpected residuals: %v", res.Residuals)
	}
}

func TestClassifyHand_ResidualHeroPlaceholder(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.ClassifyHand(context.Background(), "1", "Hero: folds\nAlice: checks\n")
	if res.Classification != Residual {
		t.Fatalf("expected residual for a leftover Hero placeholder, got %s", res.Classification)
	}
}

func TestClassifyHand_RealNameNotFlagged(t *testing.T) {
	c := New(nil, nil, nil)
	// "Abcdef" is six letters, not hex-only once case-folded it still is
	// (a-f are valid hex letters) -- use a name with a non-hex letter to
	// confirm the shape scan doesn't flag ordinary names.
	res := c.ClassifyHand(context.Background(), "1", "Alexander: folds\nZachary: checks\n")
	if res.Classification != Clean {
		t.Errorf("expected clean for ordinary names, got %s (residuals %v)", res.Classification, res.Residuals)
	}
}

type stubValidator struct {
	ok         bool
	violations []Violation
	err        error
}

func (s stubValidator) Validate(ctx context.Context, text string) (bool, []Violation, error) {
	return s.ok, s.violations, s.err
}

func TestClassifyHand_ValidatorDemotesCleanHand(t *testing.T) {
	v := stubValidator{ok: false, violations: []Violation{{Kind: "formatting", Detail: "bad summary"}}}
	c := New(nil, nil, v)
	res := c.ClassifyHand(context.Background(), "1", "Alice: folds\n")
	if res.Classification != Residual {
		t.Fatalf("expected the validator to demote a clean hand, got %s", res.Classification)
	}
	if len(res.Violations) != 1 || res.Violations[0].Kind != "formatting" {
		t.Errorf("expected violations recorded, got %+v", res.Violations)
	}
}

func TestClassifyHand_ValidatorErrorTreatedAsOK(t *testing.T) {
	v := stubValidator{err: errors.New("boom")}
	c := New(nil, nil, v)
	res := c.ClassifyHand(context.Background(), "1", "Alice: folds\n")
	if res.Classification != Clean {
		t.Errorf("expected a validator error to leave classification untouched, got %s", res.Classification)
	}
}

func TestClassifyHand_NoValidatorTreatedAsOK(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.ClassifyHand(context.Background(), "1", "Alice: folds\n")
	if res.Classification != Clean {
		t.Errorf("expected clean with no validator configured, got %s", res.Classification)
	}
}

func TestClassifyFile_WorstHandWins(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.ClassifyFile(context.Background(), "hands.txt", []RewrittenHand{
		{HandID: "1", Text: "Alice: folds\n"},
		{HandID: "2", Text: "a1b2c3: folds\n"},
		{HandID: "3", Text: "Bob: checks\n"},
	})
	if res.Classification != Residual {
		t.Fatalf("expected the file to inherit its worst hand's classification, got %s", res.Classification)
	}
	if len(res.Hands) != 3 {
		t.Fatalf("expected 3 per-hand results, got %d", len(res.Hands))
	}
}

func TestClassifyFile_AllCleanIsClean(t *testing.T) {
	c := New(nil, nil, nil)
	res := c.ClassifyFile(context.Background(), "hands.txt", []RewrittenHand{
		{HandID: "1", Text: "Alice: folds\n"},
		{HandID: "2", Text: "Bob: checks\n"},
	})
	if res.Classification != Clean {
		t.Errorf("expected clean, got %s", res.Classification)
	}
}
