package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
	"github.com/clickmediapropy/ggrevealer/internal/logger"
	"github.com/clickmediapropy/ggrevealer/internal/metrics"
	"github.com/clickmediapropy/ggrevealer/internal/ocrcache"
	"github.com/clickmediapropy/ggrevealer/internal/pipeline/errkind"
)

// RetryConfig governs per-call timeout and retry backoff (spec §4.2).
type RetryConfig struct {
	Timeout      time.Duration
	Max          int // K; 0 means no retries
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// attempt runs fn up to cfg.Max+1 times, retrying only transient failures
// with exponential backoff seeded at BackoffBase and capped at BackoffCap.
// Permanent failures and context cancellation are never retried.
func attempt[T any](ctx context.Context, cfg RetryConfig, onRetry func(), fn func(context.Context) (T, error)) (T, *errkind.Error) {
	var zero T
	backoff := cfg.BackoffBase

	for try := 0; ; try++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		result, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, errkind.New(errkind.Cancelled, "", "ocr call cancelled", ctx.Err())
		}

		var oerr *Error
		if errors.As(err, &oerr) && oerr.Kind == KindPermanent {
			return zero, errkind.New(errkind.OCRPermanent, "", "permanent ocr failure", err)
		}

		if try >= cfg.Max {
			return zero, errkind.New(errkind.OCRPermanent, "", fmt.Sprintf("ocr failed after %d attempt(s)", try+1), err)
		}

		if onRetry != nil {
			onRetry()
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return zero, errkind.New(errkind.Cancelled, "", "ocr call cancelled during backoff", ctx.Err())
		}
		backoff *= 2
		if backoff > cfg.BackoffCap {
			backoff = cfg.BackoffCap
		}
	}
}

// ResultA is the outcome of one screenshot's OCR-A call.
type ResultA struct {
	Screenshot *domain.Screenshot
	Value      domain.OCRAResult
	Err        *errkind.Error
}

// DriverA runs OCR-A over a batch of screenshots (spec §4.2).
type DriverA struct {
	port  Port
	pacer *Pacer
	cache *ocrcache.Store
	log   *logger.Logger
	met   *metrics.Metrics
	cfg   RetryConfig
}

// NewDriverA builds an OCR-A driver. cache may be nil to disable caching.
func NewDriverA(port Port, pacer *Pacer, cache *ocrcache.Store, log *logger.Logger, met *metrics.Metrics, cfg RetryConfig) *DriverA {
	return &DriverA{port: port, pacer: pacer, cache: cache, log: log, met: met, cfg: cfg}
}

// Run fans out OCR-A over every screenshot, one goroutine each, bounded by
// the driver's Pacer. Results preserve the input order regardless of
// completion order (spec §5: stable order for downstream consumers).
// Cancelling ctx aborts every in-flight call and pacing wait; already
// completed results are still returned.
func (d *DriverA) Run(ctx context.Context, screenshots []*domain.Screenshot) []ResultA {
	results := make([]ResultA, len(screenshots))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range screenshots {
		i, s := i, s
		g.Go(func() error {
			results[i] = d.call(gctx, s)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *DriverA) call(ctx context.Context, s *domain.Screenshot) ResultA {
	var hash string
	if d.cache != nil {
		hash = ocrcache.ContentHash(s.Content)
		if cached, ok := d.cache.GetOCRA(hash); ok {
			return ResultA{Screenshot: s, Value: cached}
		}
	}

	release, err := d.pacer.Acquire(ctx)
	if err != nil {
		return ResultA{Screenshot: s, Err: errkind.New(errkind.Cancelled, s.Filename, "ocr-a pacer wait cancelled", err)}
	}
	defer release()

	if d.met != nil {
		d.met.OCRACalls.Add(1)
	}
	start := time.Now()
	result, kerr := attempt(ctx, d.cfg, func() {
		if d.met != nil {
			d.met.OCRARetries.Add(1)
		}
	}, func(callCtx context.Context) (domain.OCRAResult, error) {
		return d.port.OCRA(callCtx, *s)
	})
	if d.met != nil {
		d.met.RecordOCRALatency(time.Since(start))
	}

	if kerr != nil {
		if d.met != nil {
			d.met.OCRAFailures.Add(1)
		}
		if d.log != nil {
			d.log.Warnf("ocr_a_call", "%s: %s", s.Filename, kerr.Error())
		}
		kerr.Input = s.Filename
		return ResultA{Screenshot: s, Err: kerr}
	}

	if d.cache != nil {
		d.cache.SetOCRA(hash, result)
	}
	return ResultA{Screenshot: s, Value: result}
}

// ResultB is the outcome of one screenshot's OCR-B call.
type ResultB struct {
	Screenshot *domain.Screenshot
	Value      domain.OCRBPayload
	Err        *errkind.Error
}

// DriverB runs OCR-B over a batch of screenshots (spec §4.4). A screenshot
// needs OCR-B both when it already matched via OCR-A (the mapping builder
// needs its player/role data) and when it's still unmatched and within a
// remaining hand's time window (the matcher's fallback scoring needs the
// same data). Callers apply that cost-saving gate (spec §2 step 4) before
// calling Run — an unmatched screenshot outside every remaining hand's
// window is never passed here.
type DriverB struct {
	port  Port
	pacer *Pacer
	cache *ocrcache.Store
	log   *logger.Logger
	met   *metrics.Metrics
	cfg   RetryConfig
}

func NewDriverB(port Port, pacer *Pacer, cache *ocrcache.Store, log *logger.Logger, met *metrics.Metrics, cfg RetryConfig) *DriverB {
	return &DriverB{port: port, pacer: pacer, cache: cache, log: log, met: met, cfg: cfg}
}

// Run fans out OCR-B the same way DriverA.Run does.
func (d *DriverB) Run(ctx context.Context, screenshots []*domain.Screenshot) []ResultB {
	results := make([]ResultB, len(screenshots))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range screenshots {
		i, s := i, s
		g.Go(func() error {
			results[i] = d.call(gctx, s)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *DriverB) call(ctx context.Context, s *domain.Screenshot) ResultB {
	var hash string
	if d.cache != nil {
		hash = ocrcache.ContentHash(s.Content)
		if cached, ok := d.cache.GetOCRB(hash); ok {
			return ResultB{Screenshot: s, Value: cached}
		}
	}

	release, err := d.pacer.Acquire(ctx)
	if err != nil {
		return ResultB{Screenshot: s, Err: errkind.New(errkind.Cancelled, s.Filename, "ocr-b pacer wait cancelled", err)}
	}
	defer release()

	if d.met != nil {
		d.met.OCRBCalls.Add(1)
	}
	start := time.Now()
	result, kerr := attempt(ctx, d.cfg, func() {
		if d.met != nil {
			d.met.OCRBRetries.Add(1)
		}
	}, func(callCtx context.Context) (domain.OCRBPayload, error) {
		return d.port.OCRB(callCtx, *s)
	})
	if d.met != nil {
		d.met.RecordOCRBLatency(time.Since(start))
	}

	if kerr != nil {
		if d.met != nil {
			d.met.OCRBFailures.Add(1)
		}
		if d.log != nil {
			d.log.Warnf("ocr_b_call", "%s: %s", s.Filename, kerr.Error())
		}
		kerr.Input = s.Filename
		return ResultB{Screenshot: s, Err: kerr}
	}

	if err := validateOCRBPayload(result); err != nil {
		if d.met != nil {
			d.met.OCRBSchemaFallback.Add(1)
		}
		if d.log != nil {
			d.log.Warnf("ocr_b_schema", "%s: %s", s.Filename, err.Error())
		}
		return ResultB{Screenshot: s, Err: errkind.New(errkind.OCRSchema, s.Filename, err.Error(), nil)}
	}

	if d.cache != nil {
		d.cache.SetOCRB(hash, result)
	}
	return ResultB{Screenshot: s, Value: result}
}

// validateOCRBPayload enforces the OCR-B schema (spec §4.4): a non-empty
// player list. Role indicators may be partial or absent.
func validateOCRBPayload(p domain.OCRBPayload) error {
	if len(p.Players) == 0 {
		return errors.New("ocr-b payload has no players")
	}
	return nil
}
