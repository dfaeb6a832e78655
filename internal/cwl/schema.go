package cwl

import "fmt"

// ScatterMethod enumerates the three ways a Workflow step's scatter inputs
// combine into a cross product or parallel pairing. Expanding a scatter
// into per-item steps is workflow execution and out of scope; the schema
// loader only validates that a declared method is one of these three.
type ScatterMethod string

const (
	ScatterDotProduct        ScatterMethod = "dotproduct"
	ScatterNestedCrossProduct ScatterMethod = "nested_crossproduct"
	ScatterFlatCrossProduct  ScatterMethod = "flat_crossproduct"
)

var validScatterMethods = map[ScatterMethod]bool{
	ScatterDotProduct: true, ScatterNestedCrossProduct: true, ScatterFlatCrossProduct: true,
}

// parseCommandLineTool builds the CommandLineTool-specific fields on top
// of an already-parsed ProcessBase (spec §3/§4.2).
func parseCommandLineTool(base ProcessBase, raw map[string]interface{}) (*CommandLineTool, error) {
	tool := &CommandLineTool{ProcessBase: base}

	switch bc := raw["baseCommand"].(type) {
	case string:
		tool.BaseCommand = []string{bc}
	case []interface{}:
		for _, v := range bc {
			s, ok := v.(string)
			if !ok {
				return nil, NewParseError("baseCommand entries must be strings", nil)
			}
			tool.BaseCommand = append(tool.BaseCommand, s)
		}
	case nil:
		// baseCommand is optional; arguments alone may supply the command.
	default:
		return nil, NewParseError("invalid baseCommand", nil)
	}

	if args, ok := raw["arguments"].([]interface{}); ok {
		for _, a := range args {
			arg, err := parseArgument(a)
			if err != nil {
				return nil, err
			}
			tool.Arguments = append(tool.Arguments, arg)
		}
	}

	if stdin, ok := raw["stdin"].(string); ok {
		tool.Stdin = stdin
	}
	if stdout, ok := raw["stdout"].(string); ok {
		tool.Stdout = stdout
	}
	if stderr, ok := raw["stderr"].(string); ok {
		tool.Stderr = stderr
	}

	tool.SuccessCodes = toIntSlice(raw["successCodes"])
	tool.TemporaryFailCodes = toIntSlice(raw["temporaryFailCodes"])
	tool.PermanentFailCodes = toIntSlice(raw["permanentFailCodes"])

	assignSynthesizedStreamNames(tool)

	return tool, nil
}

// assignSynthesizedStreamNames fills in the generated filenames for
// stdout/stderr-typed outputs that don't name an explicit stdout/stderr
// field on the tool itself (spec §3 invariant 5).
func assignSynthesizedStreamNames(tool *CommandLineTool) {
	for i := range tool.Outputs {
		out := &tool.Outputs[i]
		for _, alt := range out.Type.NonNullAlternatives() {
			switch alt.Kind {
			case KindStdout:
				if tool.Stdout == "" {
					tool.Stdout = fmt.Sprintf("%s.stdout", out.ID)
				}
			case KindStderr:
				if tool.Stderr == "" {
					tool.Stderr = fmt.Sprintf("%s.stderr", out.ID)
				}
			}
		}
	}
}

func parseArgument(raw interface{}) (ArgumentBinding, error) {
	switch v := raw.(type) {
	case string:
		return ArgumentBinding{Literal: v, HasLiteral: true, CommandLineBinding: CommandLineBinding{Separate: true, ShellQuote: true}}, nil
	case map[string]interface{}:
		b := parseCommandLineBinding(v)
		return ArgumentBinding{CommandLineBinding: *b}, nil
	default:
		return ArgumentBinding{}, NewParseError("invalid arguments entry", nil)
	}
}

func toIntSlice(raw interface{}) []int {
	v, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []int
	for _, item := range v {
		out = append(out, toInt(item))
	}
	return out
}

// parseWorkflow builds the Workflow-specific fields: steps, each step's
// inputs/outputs/run reference, and any scatter declaration (spec §3).
// scatter/scatterMethod are retained as declared data; expanding them into
// concrete per-item invocations is workflow execution and out of scope.
func parseWorkflow(base ProcessBase, raw map[string]interface{}, named map[string]*Type) (*Workflow, error) {
	wf := &Workflow{ProcessBase: base}

	rawSteps, ok := raw["steps"]
	if !ok {
		return wf, nil
	}

	toEntry := func(id string, val interface{}) map[string]interface{} {
		m := map[string]interface{}{}
		if vm, ok := val.(map[string]interface{}); ok {
			for k, v := range vm {
				m[k] = v
			}
		}
		if _, ok := m["id"]; !ok {
			m["id"] = id
		}
		return m
	}

	var entries []map[string]interface{}
	switch v := rawSteps.(type) {
	case []interface{}:
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, NewParseError("workflow step must be a mapping", nil)
			}
			entries = append(entries, m)
		}
	case map[string]interface{}:
		for id, val := range v {
			entries = append(entries, toEntry(id, val))
		}
	default:
		return nil, NewParseError("invalid steps", nil)
	}

	for _, m := range entries {
		step, err := parseStep(m, named)
		if err != nil {
			return nil, err
		}
		wf.Steps = append(wf.Steps, step)
	}

	return wf, nil
}

func parseStep(m map[string]interface{}, named map[string]*Type) (Step, error) {
	step := Step{}
	id, ok := m["id"].(string)
	if !ok {
		return step, NewParseError("step missing id", nil)
	}
	step.ID = id

	if in, ok := m["in"]; ok {
		inputs, err := parseStepInputs(in)
		if err != nil {
			return step, err
		}
		step.In = inputs
	}

	if out, ok := m["out"]; ok {
		switch v := out.(type) {
		case []interface{}:
			for _, o := range v {
				if s, ok := o.(string); ok {
					step.Out = append(step.Out, s)
				}
			}
		case string:
			step.Out = []string{v}
		}
	}

	step.Run = m["run"]

	if reqs, ok := m["requirements"]; ok {
		r, err := parseRequirementList(reqs, true)
		if err != nil {
			return step, err
		}
		step.Requirements = r
	}
	if hints, ok := m["hints"]; ok {
		h, err := parseRequirementList(hints, false)
		if err != nil {
			return step, err
		}
		step.Hints = h
	}

	if when, ok := m["when"].(string); ok {
		step.When = when
	}

	if scatter, ok := m["scatter"]; ok {
		switch v := scatter.(type) {
		case string:
			step.Scatter = []string{v}
		case []interface{}:
			for _, s := range v {
				if str, ok := s.(string); ok {
					step.Scatter = append(step.Scatter, str)
				}
			}
		}
	}
	if sm, ok := m["scatterMethod"].(string); ok {
		if !validScatterMethods[ScatterMethod(sm)] {
			return step, NewParseError(fmt.Sprintf("step %s has invalid scatterMethod %q", id, sm), nil)
		}
		step.ScatterMethod = sm
	}

	// An inline `run` document is itself a full process and must be
	// schema-normalized the same way a top-level document would be.
	if runMap, ok := step.Run.(map[string]interface{}); ok {
		inline, err := inlineProcess(runMap, named)
		if err != nil {
			return step, NewParseError(fmt.Sprintf("step %s has invalid inline run", id), err)
		}
		step.Run = inline
	}

	return step, nil
}

// inlineProcess schema-normalizes an embedded (non-$ref) `run` document.
// It does not require cwlVersion, since an inlined process inherits its
// parent workflow's version (spec §4.1).
func inlineProcess(raw map[string]interface{}, named map[string]*Type) (interface{}, error) {
	if _, ok := raw["cwlVersion"]; !ok {
		raw = withVersion(raw, CWLVersion10)
	}
	doc, err := (&Loader{}).load(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case doc.Tool != nil:
		return doc.Tool, nil
	case doc.ExprTool != nil:
		return doc.ExprTool, nil
	case doc.Workflow != nil:
		return doc.Workflow, nil
	default:
		return nil, NewParseError("inline run produced no process", nil)
	}
}

func withVersion(raw map[string]interface{}, version string) map[string]interface{} {
	out := make(map[string]interface{}, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	out["cwlVersion"] = version
	return out
}

func parseStepInputs(raw interface{}) ([]StepInput, error) {
	toEntry := func(id string, val interface{}) map[string]interface{} {
		m := map[string]interface{}{}
		switch vv := val.(type) {
		case string:
			m["source"] = vv
		case []interface{}:
			m["source"] = vv
		case map[string]interface{}:
			for k, v := range vv {
				m[k] = v
			}
		default:
			m["source"] = vv
		}
		if _, ok := m["id"]; !ok {
			m["id"] = id
		}
		return m
	}

	var entries []map[string]interface{}
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			switch iv := item.(type) {
			case string:
				entries = append(entries, map[string]interface{}{"id": lastSegment(iv), "source": iv})
			case map[string]interface{}:
				entries = append(entries, iv)
			default:
				return nil, NewParseError("invalid step input entry", nil)
			}
		}
	case map[string]interface{}:
		for id, val := range v {
			entries = append(entries, toEntry(id, val))
		}
	default:
		return nil, NewParseError("invalid step in", nil)
	}

	var out []StepInput
	for _, m := range entries {
		si := StepInput{}
		id, _ := m["id"].(string)
		si.ID = id
		switch src := m["source"].(type) {
		case string:
			si.Source = []string{src}
		case []interface{}:
			for _, s := range src {
				if str, ok := s.(string); ok {
					si.Source = append(si.Source, str)
				}
			}
		}
		si.Default = m["default"]
		if vf, ok := m["valueFrom"].(string); ok {
			si.ValueFrom = vf
		}
		if lm, ok := m["linkMerge"].(string); ok {
			si.LinkMerge = lm
		}
		out = append(out, si)
	}
	return out, nil
}

func lastSegment(source string) string {
	for i := len(source) - 1; i >= 0; i-- {
		if source[i] == '/' {
			return source[i+1:]
		}
	}
	return source
}
