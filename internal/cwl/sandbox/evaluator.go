package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// Mode determines the isolation level for expression evaluation.
type Mode string

const (
	// ModeInProcess runs expressions in the same process (fastest, least secure).
	// Only use for trusted expressions or development.
	ModeInProcess Mode = "inprocess"

	// ModeProcess runs expressions in isolated worker processes (recommended).
	// Provides good security with low overhead (~1-5ms).
	ModeProcess Mode = "process"
)

// Evaluator is the interface for expression evaluation.
type Evaluator interface {
	// Evaluate executes a JavaScript expression and returns the result.
	Evaluate(ctx context.Context, req Request) (interface{}, error)

	// Close releases resources.
	Close() error
}

// EvaluatorConfig configures the expression evaluator.
type EvaluatorConfig struct {
	// Mode determines the isolation level.
	Mode Mode `mapstructure:"mode"`

	// Process config (used when Mode == ModeProcess)
	Process Config `mapstructure:"process"`
}

// DefaultEvaluatorConfig returns sensible defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Mode:    ModeProcess,
		Process: DefaultConfig(),
	}
}

// NewEvaluator creates an expression evaluator based on configuration.
func NewEvaluator(cfg EvaluatorConfig) (Evaluator, error) {
	switch cfg.Mode {
	case ModeInProcess:
		return NewInProcessEvaluator(), nil

	case ModeProcess:
		return NewPool(cfg.Process)

	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", cfg.Mode)
	}
}

// InProcessEvaluator runs expressions in the current process.
// This is fast but provides no isolation - use only for the CLI's own
// trusted inspection run, never for untrusted documents.
type InProcessEvaluator struct{}

// NewInProcessEvaluator creates an in-process evaluator.
func NewInProcessEvaluator() *InProcessEvaluator {
	return &InProcessEvaluator{}
}

// Evaluate runs an expression in the current process.
func (e *InProcessEvaluator) Evaluate(ctx context.Context, req Request) (interface{}, error) {
	vm := goja.New()

	vm.Set("inputs", req.Inputs)
	vm.Set("self", req.Self)
	vm.Set("runtime", req.Runtime)

	type result struct {
		value interface{}
		err   error
	}

	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("expression panic: %v", r)}
			}
		}()

		for _, lib := range req.ExpressionLib {
			if _, err := vm.RunString(lib); err != nil {
				resultCh <- result{err: fmt.Errorf("expressionLib error: %w", err)}
				return
			}
		}

		code := req.Expression
		if req.IsFunctionBody {
			code = fmt.Sprintf("(function() {\n%s\n})()", code)
		}

		val, err := vm.RunString(code)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{value: val.Export()}
	}()

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		vm.Interrupt("timeout")
		return nil, ErrTimeout
	}
}

// Close is a no-op for in-process evaluator.
func (e *InProcessEvaluator) Close() error {
	return nil
}
