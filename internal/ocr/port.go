// Package ocr drives the two vision-OCR operations (spec §4.2, §4.4, §6):
// OCR-A extracts a hand identifier from a screenshot; OCR-B extracts display
// names, stacks, and role indicators. Both share the same concurrency,
// pacing, retry, and cancellation semantics: DriverA and DriverB in
// driver.go run the same fan-out shape over a Pacer (pacer.go) and the
// generic attempt retry helper.
package ocr

import (
	"context"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
)

// Port is the external vision-OCR collaborator (spec §6). Implementations
// must classify every failure as transient (network, 5xx, timeout — worth
// retrying) or permanent (the model responded but produced no usable
// answer — not worth retrying) by returning an error wrapped with Transient
// or Permanent.
type Port interface {
	OCRA(ctx context.Context, screenshot domain.Screenshot) (domain.OCRAResult, error)
	OCRB(ctx context.Context, screenshot domain.Screenshot) (domain.OCRBPayload, error)
}

// Kind classifies a Port error as transient or permanent.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

// Error wraps a Port failure with its retry classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as worth retrying (network failure, 5xx, timeout).
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// Permanent marks err as not worth retrying (the model declined to answer).
func Permanent(err error) error { return &Error{Kind: KindPermanent, Err: err} }
