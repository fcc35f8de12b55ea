package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluator compiles and runs CEL expressions for custom tenant rules.
// Compiled programs are cached by tenant, rule and version.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEvaluator creates a CEL evaluator with the payment variables bound.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("payment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("source_account", cel.StringType),
		cel.Variable("destination_account", cel.StringType),
		cel.Variable("payment_type", cel.StringType),
		cel.Variable("reference", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles a rule expression without caching it. Used to admit
// rules before they are stored.
func (e *Evaluator) Validate(def *domain.RuleDefinition) error {
	if def == nil {
		return fmt.Errorf("rule definition is required")
	}
	if def.Expression == "" {
		return nil
	}
	_, err := e.compile(def)
	return err
}

// Evaluate runs a rule expression against a payment. A true result
// rejects the payment.
func (e *Evaluator) Evaluate(def *domain.RuleDefinition, payment *domain.PaymentInitiated) (bool, error) {
	program, err := e.program(def)
	if err != nil {
		return false, err
	}

	hour := payment.InitiatedAt.UTC().Hour()
	activation := map[string]any{
		"payment": map[string]any{
			"id":                  payment.PaymentID,
			"source_account":      payment.SourceAccount,
			"destination_account": payment.DestinationAccount,
			"amount":              payment.Amount.Value,
			"currency":            payment.Amount.Currency,
			"payment_type":        payment.PaymentType,
			"reference":           payment.Reference,
		},
		"amount":              payment.Amount.Value,
		"currency":            payment.Amount.Currency,
		"source_account":      payment.SourceAccount,
		"destination_account": payment.DestinationAccount,
		"payment_type":        payment.PaymentType,
		"reference":           payment.Reference,
		"tenant_id":           payment.TenantContext.TenantID,
		"hour":                hour,
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %s: expression returned non-bool", def.RuleID)
	}
	return bool(b), nil
}

// program returns the cached compiled program for a rule, compiling on
// first use.
func (e *Evaluator) program(def *domain.RuleDefinition) (cel.Program, error) {
	key := def.TenantID + ":" + def.RuleID + ":" + def.Version

	e.mu.RLock()
	program, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := e.compile(def)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[key] = program
	e.mu.Unlock()

	return program, nil
}

func (e *Evaluator) compile(def *domain.RuleDefinition) (cel.Program, error) {
	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.RuleID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", def.RuleID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.RuleID, err)
	}

	return program, nil
}

// ProgramCount returns the number of cached programs.
func (e *Evaluator) ProgramCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Close drops all cached programs.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}
