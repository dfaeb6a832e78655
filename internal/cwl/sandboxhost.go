package cwl

import (
	"context"

	"github.com/wilke-lab/cwl-inspect/internal/cwl/sandbox"
)

// SandboxHost adapts a sandbox.Evaluator to the JSHost interface the
// expression engine consumes, so callers can choose in-process or
// worker-pool isolation without the expression engine knowing which.
type SandboxHost struct {
	Evaluator sandbox.Evaluator
}

// NewSandboxHost wraps an already-constructed sandbox.Evaluator.
func NewSandboxHost(eval sandbox.Evaluator) *SandboxHost {
	return &SandboxHost{Evaluator: eval}
}

// Eval implements JSHost.
func (h *SandboxHost) Eval(code string, isFunctionBody bool, lib []string, ctx map[string]interface{}) (interface{}, error) {
	req := sandbox.Request{
		Expression:     code,
		IsFunctionBody: isFunctionBody,
		ExpressionLib:  lib,
		Inputs:         asMap(ctx["inputs"]),
		Self:           ctx["self"],
		Runtime:        asMap(ctx["runtime"]),
	}
	return h.Evaluator.Evaluate(context.Background(), req)
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}
