package cwl

import (
	"sort"
	"strconv"
	"strings"
)

// ToTree projects a Document into the canonical generic value tree that
// Walk and Keys operate over (spec §4.3). The tree uses the same
// field names the document loader consumes. Types appear as their
// shorthand strings (Type.String): primitive, array and optional types
// parse back to the same Type with ParseType, but record and enum types
// appear only by name (or bare kind) without their fields or symbols, and
// a union of two or more non-null types renders as "(a|b)", which
// ParseType does not accept, so those types do not round-trip.
func ToTree(doc *Document) map[string]interface{} {
	switch {
	case doc.Tool != nil:
		return commandLineToolTree(doc.Tool)
	case doc.ExprTool != nil:
		return expressionToolTree(doc.ExprTool)
	case doc.Workflow != nil:
		return workflowTree(doc.Workflow)
	default:
		return map[string]interface{}{}
	}
}

func baseTree(b *ProcessBase) map[string]interface{} {
	m := map[string]interface{}{
		"cwlVersion": b.CWLVersion,
		"class":      b.Class,
	}
	if b.ID != "" {
		m["id"] = b.ID
	}
	if b.Label != "" {
		m["label"] = b.Label
	}
	if b.Doc != "" {
		m["doc"] = b.Doc
	}
	m["inputs"] = parametersTree(b.Inputs)
	m["outputs"] = parametersTree(b.Outputs)
	if len(b.Requirements) > 0 {
		m["requirements"] = requirementsTree(b.Requirements)
	}
	if len(b.Hints) > 0 {
		m["hints"] = requirementsTree(b.Hints)
	}
	return m
}

func parametersTree(params []Parameter) []interface{} {
	out := make([]interface{}, 0, len(params))
	for _, p := range params {
		m := map[string]interface{}{
			"id":   p.ID,
			"type": p.Type.String(),
		}
		if p.Label != "" {
			m["label"] = p.Label
		}
		if p.Doc != "" {
			m["doc"] = p.Doc
		}
		if p.HasDefault {
			m["default"] = p.Default
		}
		if p.Format != "" {
			m["format"] = p.Format
		}
		if p.Streamable {
			m["streamable"] = p.Streamable
		}
		if len(p.SecondaryFiles) > 0 {
			m["secondaryFiles"] = secondaryFilesTree(p.SecondaryFiles)
		}
		if p.InputBinding != nil {
			m["inputBinding"] = commandLineBindingTree(p.InputBinding)
		}
		if p.OutputBinding != nil {
			m["outputBinding"] = outputBindingTree(p.OutputBinding)
		}
		out = append(out, m)
	}
	return out
}

func secondaryFilesTree(specs []SecondaryFileSpec) []interface{} {
	out := make([]interface{}, 0, len(specs))
	for _, s := range specs {
		m := map[string]interface{}{"pattern": s.Pattern}
		if s.Required != nil {
			m["required"] = *s.Required
		}
		out = append(out, m)
	}
	return out
}

func commandLineBindingTree(b *CommandLineBinding) map[string]interface{} {
	m := map[string]interface{}{
		"position": b.Position,
		"separate": b.Separate,
	}
	if b.HasPrefix {
		m["prefix"] = b.Prefix
	}
	if b.ItemSeparator != "" {
		m["itemSeparator"] = b.ItemSeparator
	}
	if b.ValueFrom != "" {
		m["valueFrom"] = b.ValueFrom
	}
	if b.HasShellQuote {
		m["shellQuote"] = b.ShellQuote
	}
	if b.LoadContents {
		m["loadContents"] = b.LoadContents
	}
	return m
}

func outputBindingTree(b *CommandOutputBinding) map[string]interface{} {
	m := map[string]interface{}{}
	if b.Glob != nil {
		m["glob"] = b.Glob
	}
	if b.LoadContents {
		m["loadContents"] = b.LoadContents
	}
	if b.OutputEval != "" {
		m["outputEval"] = b.OutputEval
	}
	return m
}

func requirementsTree(reqs []Requirement) []interface{} {
	out := make([]interface{}, 0, len(reqs))
	for _, r := range reqs {
		if r.Opaque != nil {
			out = append(out, r.Opaque)
			continue
		}
		out = append(out, requirementTree(r))
	}
	return out
}

func requirementTree(r Requirement) map[string]interface{} {
	m := map[string]interface{}{"class": string(r.Class)}
	switch r.Class {
	case ReqDocker:
		if r.DockerPull != "" {
			m["dockerPull"] = r.DockerPull
		}
		if r.DockerImageID != "" {
			m["dockerImageId"] = r.DockerImageID
		}
		if r.DockerOutputDir != "" {
			m["dockerOutputDirectory"] = r.DockerOutputDir
		}
	case ReqInlineJavascript:
		if len(r.ExpressionLib) > 0 {
			m["expressionLib"] = toInterfaceSlice(r.ExpressionLib)
		}
	case ReqSchemaDef:
		if len(r.SchemaDefTypes) > 0 {
			types := make([]interface{}, len(r.SchemaDefTypes))
			for i, t := range r.SchemaDefTypes {
				types[i] = t.String()
			}
			m["types"] = types
		}
	case ReqInitialWorkDir:
		if r.InitialWorkDirListing != nil {
			m["listing"] = r.InitialWorkDirListing
		}
	case ReqEnvVar:
		if len(r.EnvDef) > 0 {
			envDef := make([]interface{}, len(r.EnvDef))
			for i, e := range r.EnvDef {
				envDef[i] = map[string]interface{}{"envName": e.EnvName, "envValue": e.EnvValue}
			}
			m["envDef"] = envDef
		}
	case ReqResource:
		if r.CoresMin != nil {
			m["coresMin"] = r.CoresMin
		}
		if r.CoresMax != nil {
			m["coresMax"] = r.CoresMax
		}
		if r.RAMMin != nil {
			m["ramMin"] = r.RAMMin
		}
		if r.RAMMax != nil {
			m["ramMax"] = r.RAMMax
		}
	}
	return m
}

func commandLineToolTree(t *CommandLineTool) map[string]interface{} {
	m := baseTree(&t.ProcessBase)
	if len(t.BaseCommand) > 0 {
		m["baseCommand"] = t.BaseCommand
	}
	if len(t.Arguments) > 0 {
		args := make([]interface{}, len(t.Arguments))
		for i, a := range t.Arguments {
			am := commandLineBindingTree(&a.CommandLineBinding)
			if a.HasLiteral {
				am["valueFrom"] = a.Literal
			}
			args[i] = am
		}
		m["arguments"] = args
	}
	if t.Stdin != "" {
		m["stdin"] = t.Stdin
	}
	if t.Stdout != "" {
		m["stdout"] = t.Stdout
	}
	if t.Stderr != "" {
		m["stderr"] = t.Stderr
	}
	if len(t.SuccessCodes) > 0 {
		m["successCodes"] = toIntInterfaceSlice(t.SuccessCodes)
	}
	if len(t.TemporaryFailCodes) > 0 {
		m["temporaryFailCodes"] = toIntInterfaceSlice(t.TemporaryFailCodes)
	}
	if len(t.PermanentFailCodes) > 0 {
		m["permanentFailCodes"] = toIntInterfaceSlice(t.PermanentFailCodes)
	}
	return m
}

func expressionToolTree(t *ExpressionTool) map[string]interface{} {
	m := baseTree(&t.ProcessBase)
	m["expression"] = t.Expression
	return m
}

func workflowTree(w *Workflow) map[string]interface{} {
	m := baseTree(&w.ProcessBase)
	steps := make([]interface{}, 0, len(w.Steps))
	for _, s := range w.Steps {
		steps = append(steps, stepTree(s))
	}
	m["steps"] = steps
	return m
}

func stepTree(s Step) map[string]interface{} {
	m := map[string]interface{}{
		"id":  s.ID,
		"out": toInterfaceSlice(s.Out),
		"in":  stepInputsTree(s.In),
		"run": runTree(s.Run),
	}
	if s.When != "" {
		m["when"] = s.When
	}
	if len(s.Scatter) > 0 {
		m["scatter"] = toInterfaceSlice(s.Scatter)
	}
	if s.ScatterMethod != "" {
		m["scatterMethod"] = s.ScatterMethod
	}
	if len(s.Requirements) > 0 {
		m["requirements"] = requirementsTree(s.Requirements)
	}
	if len(s.Hints) > 0 {
		m["hints"] = requirementsTree(s.Hints)
	}
	return m
}

func stepInputsTree(ins []StepInput) []interface{} {
	out := make([]interface{}, 0, len(ins))
	for _, in := range ins {
		m := map[string]interface{}{"id": in.ID}
		if len(in.Source) > 0 {
			m["source"] = toInterfaceSlice(in.Source)
		}
		if in.Default != nil {
			m["default"] = in.Default
		}
		if in.ValueFrom != "" {
			m["valueFrom"] = in.ValueFrom
		}
		if in.LinkMerge != "" {
			m["linkMerge"] = in.LinkMerge
		}
		out = append(out, m)
	}
	return out
}

// runTree resolves a step's `run` to the tree form: the bare reference
// string, or the nested process tree for an inlined definition.
func runTree(run interface{}) interface{} {
	switch v := run.(type) {
	case string:
		return v
	case *CommandLineTool:
		return commandLineToolTree(v)
	case *ExpressionTool:
		return expressionToolTree(v)
	case *Workflow:
		return workflowTree(v)
	default:
		return nil
	}
}

func toIntInterfaceSlice(ns []int) []interface{} {
	out := make([]interface{}, len(ns))
	for i, n := range ns {
		out[i] = n
	}
	return out
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// keyFieldFor returns the field name used to address members of a list by
// key, given the list's containing field name (spec §4.3).
func keyFieldFor(field string) string {
	switch field {
	case "requirements", "hints":
		return "class"
	case "packages":
		return "package"
	default:
		return "id"
	}
}

// Walk resolves a dotted path against doc's canonical tree. Each segment
// is a field name, a decimal list index, or the key of a list member
// (matched via keyFieldFor). A missing segment raises InspectionError
// unless a default is supplied.
func Walk(doc *Document, path string, def ...interface{}) (interface{}, error) {
	tree := ToTree(doc)
	val, err := walkTree(tree, path)
	if err != nil {
		if len(def) > 0 {
			return def[0], nil
		}
		return nil, err
	}
	return val, nil
}

func walkTree(tree map[string]interface{}, path string) (interface{}, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	var cur interface{} = tree
	var lastField string
	for _, seg := range segs {
		next, err := step(cur, seg, lastField)
		if err != nil {
			return nil, NewInspectionError(err.Error(), nil).WithPath(path)
		}
		cur = next
		lastField = seg
	}
	return cur, nil
}

func splitPath(path string) ([]string, error) {
	if path == "" || path[0] != '.' {
		return nil, NewInspectionError("path must start with '.'", nil).WithPath(path)
	}
	trimmed := strings.TrimPrefix(path, ".")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "."), nil
}

func step(cur interface{}, seg, lastField string) (interface{}, error) {
	switch v := cur.(type) {
	case map[string]interface{}:
		if val, ok := v[seg]; ok {
			return val, nil
		}
		return nil, NewInspectionError("no such field: "+seg, nil)

	case []interface{}:
		if idx, err := strconv.Atoi(seg); err == nil {
			if idx < 0 || idx >= len(v) {
				return nil, NewInspectionError("index out of range: "+seg, nil)
			}
			return v[idx], nil
		}
		keyField := keyFieldFor(lastField)
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if key, ok := m[keyField].(string); ok && key == seg {
				return item, nil
			}
		}
		return nil, NewInspectionError("no member with key: "+seg, nil)

	default:
		return nil, NewInspectionError("cannot descend into scalar at segment: "+seg, nil)
	}
}

// Keys returns the sorted keys addressable at path: object ids/classes for
// a list, or field names for a record (spec §4.3).
func Keys(doc *Document, path string) ([]string, error) {
	tree := ToTree(doc)
	val, err := walkTree(tree, path)
	if err != nil {
		return nil, err
	}
	var out []string
	switch v := val.(type) {
	case []interface{}:
		field := lastPathSegmentField(path)
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if key, ok := m[field].(string); ok {
				out = append(out, key)
			}
		}
	case map[string]interface{}:
		for k := range v {
			out = append(out, k)
		}
	default:
		return nil, NewInspectionError("path does not address a list or record", nil).WithPath(path)
	}
	sort.Strings(out)
	return out, nil
}

func lastPathSegmentField(path string) string {
	trimmed := strings.TrimPrefix(path, ".")
	segs := strings.Split(trimmed, ".")
	if len(segs) == 0 {
		return "id"
	}
	return keyFieldFor(segs[len(segs)-1])
}
