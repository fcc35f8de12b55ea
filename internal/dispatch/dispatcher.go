// Package dispatch fans a payment out to the rule family engines under
// the per-validation budget.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ErrCancelled reports that the caller cancelled the dispatch before it
// completed. Partial family results are discarded; the orchestrator
// seals a SYSTEM_ERROR result instead.
var ErrCancelled = errors.New("dispatch cancelled")

const defaultBudgetMs = 2000

// Dispatcher runs the family engines for one payment. In parallel mode
// the engines run concurrently, throttled by maxParallelRules, all under
// one budget deadline. Families that miss the deadline contribute a
// synthetic timeout failure; engines that fail or panic contribute a
// synthetic engine-error failure. Results always come back in the
// canonical family order.
type Dispatcher struct {
	engines []rules.FamilyEngine
	policy  domain.ExecutionPolicy
	logger  *slog.Logger
}

type familyOutcome struct {
	index  int
	result *domain.FamilyResult
	err    error
}

// New creates a dispatcher over the given engines. Engines are ordered
// canonically regardless of argument order.
func New(policy domain.ExecutionPolicy, engines ...rules.FamilyEngine) *Dispatcher {
	ordered := make([]rules.FamilyEngine, 0, len(engines))
	for _, family := range domain.FamilyOrder {
		for _, engine := range engines {
			if engine.Family() == family {
				ordered = append(ordered, engine)
			}
		}
	}

	return &Dispatcher{
		engines: ordered,
		policy:  policy,
		logger:  slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch runs every family engine against the payment and returns one
// FamilyResult per engine in canonical order. It returns an error only
// when the caller's context is cancelled; budget expiry and engine
// failures surface as synthetic failed rules inside the results.
func (d *Dispatcher) Dispatch(ctx context.Context, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) ([]*domain.FamilyResult, error) {
	if len(d.engines) == 0 {
		return []*domain.FamilyResult{}, nil
	}

	budgetMs := d.policy.PerValidationBudgetMs
	if budgetMs <= 0 {
		budgetMs = defaultBudgetMs
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, time.Duration(budgetMs)*time.Millisecond)
	defer cancel()

	if !d.policy.Parallel {
		return d.serial(ctx, dispatchCtx, vctx, payment)
	}
	return d.parallel(ctx, dispatchCtx, vctx, payment)
}

// parallel fans out to all engines, at most maxParallelRules at a time.
func (d *Dispatcher) parallel(parent, dispatchCtx context.Context, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) ([]*domain.FamilyResult, error) {
	maxParallel := d.policy.MaxParallelRules
	if maxParallel <= 0 {
		maxParallel = len(d.engines)
	}

	results := make([]*domain.FamilyResult, len(d.engines))
	done := make(chan familyOutcome, len(d.engines))
	sem := make(chan struct{}, maxParallel)

	for i, engine := range d.engines {
		go func(i int, engine rules.FamilyEngine) {
			// Queued engines share the same deadline.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-dispatchCtx.Done():
				done <- familyOutcome{index: i, err: dispatchCtx.Err()}
				return
			}
			done <- d.run(dispatchCtx, i, engine, vctx, payment)
		}(i, engine)
	}

	for completed := 0; completed < len(d.engines); {
		select {
		case out := <-done:
			completed++
			if parent.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
			}
			d.record(out, results)

		case <-dispatchCtx.Done():
			if parent.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
			}

			// Budget expired. Collect whatever finished in time, then
			// fill the rest with timeout failures. In-flight engines
			// observe the cancelled context and stop on their own.
			d.drain(done, results)
			for i, result := range results {
				if result == nil {
					results[i] = d.syntheticTimeout(d.engines[i].Family())
				}
			}
			return results, nil
		}
	}

	return results, nil
}

// serial runs the engines one after another in canonical order under the
// shared deadline.
func (d *Dispatcher) serial(parent, dispatchCtx context.Context, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) ([]*domain.FamilyResult, error) {
	results := make([]*domain.FamilyResult, len(d.engines))

	for i, engine := range d.engines {
		if parent.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
		}
		if dispatchCtx.Err() != nil {
			results[i] = d.syntheticTimeout(engine.Family())
			continue
		}

		out := d.run(dispatchCtx, i, engine, vctx, payment)
		if out.err != nil && parent.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, parent.Err())
		}
		d.record(out, results)
	}

	return results, nil
}

// run executes one engine, converting panics into errors.
func (d *Dispatcher) run(ctx context.Context, index int, engine rules.FamilyEngine, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) (out familyOutcome) {
	out.index = index

	defer func() {
		if r := recover(); r != nil {
			out.result = nil
			out.err = fmt.Errorf("panic: %v", r)
			d.logger.Error("family engine panicked",
				"family", engine.Family(),
				"validation_id", vctx.ValidationID,
				"panic", r,
			)
		}
	}()

	result, err := engine.Execute(ctx, vctx, payment)
	if err != nil {
		out.err = err
		return out
	}
	if result == nil {
		out.err = fmt.Errorf("engine returned no result")
		return out
	}
	out.result = result
	return out
}

// record stores a finished outcome, converting errors to synthetic
// failures. Context errors mean the engine was cut off by the budget.
func (d *Dispatcher) record(out familyOutcome, results []*domain.FamilyResult) {
	if out.err == nil {
		results[out.index] = out.result
		return
	}

	family := d.engines[out.index].Family()
	if errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded) {
		results[out.index] = d.syntheticTimeout(family)
		return
	}
	results[out.index] = d.syntheticEngineError(family, out.err)
}

// drain collects outcomes that completed before the deadline fired.
func (d *Dispatcher) drain(done <-chan familyOutcome, results []*domain.FamilyResult) {
	for {
		select {
		case out := <-done:
			d.record(out, results)
		default:
			return
		}
	}
}

func (d *Dispatcher) syntheticTimeout(family domain.RuleFamily) *domain.FamilyResult {
	d.logger.Warn("rule family timed out",
		"family", family,
		"budget_ms", d.policy.PerValidationBudgetMs,
	)
	return &domain.FamilyResult{
		Family:       family,
		Success:      false,
		AppliedRules: []string{},
		FailedRules: []domain.FailedRule{{
			RuleID:        fmt.Sprintf("%s_TIMEOUT", family),
			RuleName:      familyTitle(family) + " Timeout",
			Family:        family,
			FailureReason: "rule family did not complete within budget",
			FailedAt:      time.Now().UTC(),
		}},
		RiskDelta:    100,
		ErrorMessage: "rule family did not complete within budget",
	}
}

func (d *Dispatcher) syntheticEngineError(family domain.RuleFamily, err error) *domain.FamilyResult {
	d.logger.Error("rule family failed",
		"family", family,
		"error", err,
	)
	return &domain.FamilyResult{
		Family:       family,
		Success:      false,
		AppliedRules: []string{},
		FailedRules: []domain.FailedRule{{
			RuleID:        fmt.Sprintf("%s_ENGINE_ERROR", family),
			RuleName:      familyTitle(family) + " Engine Error",
			Family:        family,
			FailureReason: err.Error(),
			FailedAt:      time.Now().UTC(),
		}},
		RiskDelta:    100,
		ErrorMessage: err.Error(),
	}
}

// familyTitle renders BUSINESS as Business for synthetic rule names.
func familyTitle(family domain.RuleFamily) string {
	s := strings.ToLower(string(family))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
