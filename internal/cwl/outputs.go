package cwl

import "fmt"

// ListOutputs predicts the output files/values a CommandLineTool or
// ExpressionTool would produce, for the CLI's `list` command (SUPPLEMENTED
// FEATURES §4): for each output parameter, the glob patterns are evaluated
// (literal or expression, single pattern or array of patterns) and
// reported as resolved pattern strings, without touching the filesystem
// (glob expansion itself stays an external collaborator). ExpressionTool
// outputs and stdout/stderr-kind outputs are reported by their parameter id;
// the stream filename is not reported. Outputs without a glob are omitted.
func ListOutputs(base *ProcessBase, isExpressionTool bool, coerced map[string]interface{}, lib []string, jsEnabled bool, rt *RuntimeRecord, evaluator *Evaluator) ([]string, error) {
	env := Env{Inputs: PlainInputs(coerced), Runtime: rt.ToMap(), ExpressionLib: lib, JSEnabled: jsEnabled}

	var out []string
	for _, p := range base.Outputs {
		if isExpressionTool {
			out = append(out, p.ID)
			continue
		}
		if p.Type.Kind == KindStdout || p.Type.Kind == KindStderr {
			out = append(out, p.ID)
			continue
		}
		if p.OutputBinding == nil || p.OutputBinding.Glob == nil {
			continue
		}
		patterns, err := globPatterns(p.OutputBinding.Glob, env, evaluator)
		if err != nil {
			return nil, NewInspectionError(fmt.Sprintf("output %s", p.ID), err).WithPath(p.ID)
		}
		out = append(out, patterns...)
	}
	return out, nil
}

func globPatterns(glob interface{}, env Env, evaluator *Evaluator) ([]string, error) {
	switch v := glob.(type) {
	case string:
		result, err := evaluator.EvaluateString(v, env, nil)
		if err != nil {
			return nil, err
		}
		return toStringSlice(result), nil
	case []interface{}:
		var out []string
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			result, err := evaluator.EvaluateString(s, env, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, toStringSlice(result)...)
		}
		return out, nil
	default:
		return nil, NewInspectionError(fmt.Sprintf("unsupported glob type %T", glob), nil)
	}
}

func toStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}
