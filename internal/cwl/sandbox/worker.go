package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"
)

// RunWorker is the main loop for a sandbox worker process.
// This should be called when the binary is invoked with --sandbox-worker.
func RunWorker() {
	applyResourceLimits()

	vm := goja.New()

	dec := json.NewDecoder(os.Stdin)
	enc := json.NewEncoder(os.Stdout)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			// Parent closed stdin, exit cleanly
			return
		}

		resp := evaluateInVM(vm, req)
		if err := enc.Encode(resp); err != nil {
			return
		}

		// Fresh VM per evaluation: expressionLib from one request must
		// not leak into the next.
		vm = goja.New()
	}
}

// evaluateInVM loads req's expressionLib, then runs req.Expression as
// either a bare ECMAScript expression or, when IsFunctionBody is set, a
// function body with an implicit return (CWL's `${...}` form). CWL's
// expressionLib is ordinary JavaScript and expects the full ECMAScript
// built-in environment goja already provides (Math, JSON, Array.prototype
// methods, etc.) — it is not restricted to a hand-picked subset.
func evaluateInVM(vm *goja.Runtime, req Request) Response {
	defer func() {
		if r := recover(); r != nil {
			// Don't let panics crash the worker.
		}
	}()

	go func() {
		time.Sleep(10 * time.Second)
		vm.Interrupt("execution timeout")
	}()

	vm.Set("inputs", req.Inputs)
	vm.Set("self", req.Self)
	vm.Set("runtime", req.Runtime)

	for _, lib := range req.ExpressionLib {
		if _, err := vm.RunString(lib); err != nil {
			return Response{Error: fmt.Sprintf("expressionLib error: %v", err)}
		}
	}

	code := req.Expression
	if req.IsFunctionBody {
		code = fmt.Sprintf("(function() {\n%s\n})()", code)
	}

	result, err := vm.RunString(code)
	if err != nil {
		return Response{Error: fmt.Sprintf("evaluation error: %v", err)}
	}

	return Response{Result: result.Export()}
}
