// Package classifier scans rewritten hand text for residual anonymized
// identifiers and classifies hands and files as clean or residual (spec
// §4.8).
package classifier

import (
	"context"
	"regexp"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
)

// Classification is the outcome for one hand or one file.
type Classification string

const (
	Clean    Classification = "clean"
	Residual Classification = "residual"
)

// Violation is one reason a validator demoted an otherwise-clean hand (spec
// §6 Validator port).
type Violation struct {
	Kind   string
	Detail string
}

// Validator is the optional external hook that may further demote a clean
// hand (spec §4.8, §6). The pipeline treats an unavailable Validator as ok
// for every hand, never retries a call, and never treats a Validator error
// as a pipeline failure.
type Validator interface {
	Validate(ctx context.Context, rewrittenText string) (ok bool, violations []Violation, err error)
}

// residualShape matches a 6-8 character hex run not preceded by a letter
// that would make it part of a longer real-name token, or the reserved hero
// placeholder.
var residualShape = regexp.MustCompile(`(?i)\b[0-9a-f]{6,8}\b|\b` + domain.HeroPlaceholder + `\b`)

// HandResult is one hand's classification.
type HandResult struct {
	HandID         string
	Classification Classification
	Residuals      []string // the literal residual tokens found, for diagnostics
	Violations     []Violation
}

// FileResult is one file's classification: the worst of its hands.
type FileResult struct {
	Filename       string
	Classification Classification
	Hands          []HandResult
}

// Classifier scans rewritten hand text for residual identifiers.
type Classifier struct {
	log       *logger.Logger
	met       *metrics.Metrics
	validator Validator // optional; nil means "always ok"
}

// New returns a Classifier. validator may be nil.
func New(log *logger.Logger, met *metrics.Metrics, validator Validator) *Classifier {
	return &Classifier{log: log, met: met, validator: validator}
}

// ClassifyHand scans one hand's rewritten text, then calls the optional
// validator (spec §4.8). A hand already residual from the shape scan still
// runs through the validator, since its violations are diagnostic even
// though they can't improve the classification.
func (c *Classifier) ClassifyHand(ctx context.Context, handID, rewrittenText string) HandResult {
	residuals := residualShape.FindAllString(rewrittenText, -1)
	result := HandResult{HandID: handID, Classification: Clean}
	if len(residuals) > 0 {
		result.Classification = Residual
		result.Residuals = residuals
	}

	if c.validator != nil {
		ok, violations, err := c.validator.Validate(ctx, rewrittenText)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("validator_error", "%s: %v", handID, err)
			}
		} else if !ok {
			result.Classification = Residual
			result.Violations = violations
		}
	}

	return result
}

// RewrittenHand is one hand's rewritten text, input to ClassifyFile.
type RewrittenHand struct {
	HandID string
	Text   string
}

// ClassifyFile classifies every hand in hands, then takes the worst outcome
// for the whole file (spec §4.8: "whole files are classified by the worst
// hand they contain").
func (c *Classifier) ClassifyFile(ctx context.Context, filename string, hands []RewrittenHand) FileResult {
	result := FileResult{Filename: filename, Classification: Clean}
	for _, h := range hands {
		hr := c.ClassifyHand(ctx, h.HandID, h.Text)
		result.Hands = append(result.Hands, hr)
		if hr.Classification == Residual {
			result.Classification = Residual
		}
	}

	if c.met != nil {
		if result.Classification == Clean {
			c.met.FilesClassifiedClean.Add(1)
		} else {
			c.met.FilesClassifiedResidual.Add(1)
		}
	}
	return result
}
