package cwl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader parses a CWL process document from its raw YAML/JSON surface
// form into the canonical Document shape (spec §4.1). Job parameter
// documents are not parsed here.
type Loader struct {
	basePath string

	// SkipPreprocess disables $import/$include expansion (the CLI's
	// --without-preprocess flag), for inspecting a document's literal
	// surface form.
	SkipPreprocess bool

	fragments map[string]interface{}
}

// NewLoader creates a document loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile loads and schema-normalizes the CWL document at path.
func (l *Loader) LoadFile(path string) (*Document, error) {
	data, raw, err := readMapping(path)
	if err != nil {
		return nil, err
	}
	l.basePath = filepath.Dir(path)

	preprocessed := interface{}(raw)
	if !l.SkipPreprocess {
		preprocessed, err = l.preprocess(raw)
		if err != nil {
			return nil, err
		}
	}
	l.fragments = map[string]interface{}{}
	collectFragments(preprocessed, l.fragments)

	normalized, ok := preprocessed.(map[string]interface{})
	if !ok {
		return nil, NewParseError("document root must be a mapping", nil)
	}
	doc, err := l.load(normalized)
	if err != nil {
		return nil, err
	}
	doc.Fragments = l.fragments
	_ = ContentHash(data) // retained for callers that want a content fingerprint
	return doc, nil
}

// preprocess performs schema-salad-style expansion: `$import` substitutes
// the referenced document's parsed value; `$include` substitutes the
// referenced file's raw text (spec §4.1).
func (l *Loader) preprocess(node interface{}) (interface{}, error) {
	switch v := node.(type) {
	case map[string]interface{}:
		if ref, ok := v["$import"].(string); ok {
			return l.resolveImport(ref)
		}
		if ref, ok := v["$include"].(string); ok {
			return l.resolveInclude(ref)
		}
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved, err := l.preprocess(val)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := l.preprocess(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return node, nil
	}
}

func (l *Loader) resolveImport(ref string) (interface{}, error) {
	path := filepath.Join(l.basePath, ref)
	_, raw, err := readMapping(path)
	if err != nil {
		return nil, NewParseError(fmt.Sprintf("$import %s failed", ref), err)
	}
	sub := &Loader{basePath: filepath.Dir(path)}
	return sub.preprocess(raw)
}

func (l *Loader) resolveInclude(ref string) (string, error) {
	path := filepath.Join(l.basePath, ref)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", NewParseError(fmt.Sprintf("$include %s failed", ref), err)
	}
	return string(data), nil
}

// collectFragments builds the fragment id -> raw node table (spec §4.1)
// so later `#frag` type references resolve against it.
func collectFragments(node interface{}, out map[string]interface{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			out[id] = v
		}
		for _, val := range v {
			collectFragments(val, out)
		}
	case []interface{}:
		for _, item := range v {
			collectFragments(item, out)
		}
	}
}

// LoadBytes loads and schema-normalizes a CWL document already in memory
// (used for `-` stdin documents, which cannot carry relative $import paths).
func (l *Loader) LoadBytes(data []byte) (*Document, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewParseError("malformed document", err)
	}
	l.fragments = map[string]interface{}{}
	collectFragments(raw, l.fragments)
	doc, err := l.load(raw)
	if err != nil {
		return nil, err
	}
	doc.Fragments = l.fragments
	return doc, nil
}

// fragmentTypes scans collected fragments for inline record/enum type
// definitions so `#fragment` type references resolve the same way named
// SchemaDefRequirement types do.
func (l *Loader) fragmentTypes() map[string]*Type {
	out := map[string]*Type{}
	for id, node := range l.fragments {
		m, ok := node.(map[string]interface{})
		if !ok {
			continue
		}
		typeStr, _ := m["type"].(string)
		if typeStr != "record" && typeStr != "enum" {
			continue
		}
		t, err := parseTypeObject(m)
		if err != nil {
			continue
		}
		if t.Name == "" {
			t.Name = id
		}
		out[id] = t
	}
	return out
}

func readMapping(path string) ([]byte, map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, NewParseError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, NewParseError(fmt.Sprintf("cannot read %s", path), err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, NewParseError(fmt.Sprintf("malformed document %s", path), err)
	}
	return data, raw, nil
}

// load dispatches a raw mapping to the appropriate process-variant builder
// after validating the fields every CWL v1.0 document must carry.
func (l *Loader) load(raw map[string]interface{}) (*Document, error) {
	version, ok := raw["cwlVersion"].(string)
	if !ok {
		return nil, NewParseError("missing or invalid cwlVersion", nil)
	}
	if version != CWLVersion10 {
		return nil, NewParseError(fmt.Sprintf("unsupported cwlVersion %q (only v1.0)", version), nil)
	}

	class, ok := raw["class"].(string)
	if !ok {
		return nil, NewParseError("missing or invalid class", nil)
	}

	base := ProcessBase{CWLVersion: version, Class: class}
	if id, ok := raw["id"].(string); ok {
		base.ID = id
	}
	if label, ok := raw["label"].(string); ok {
		base.Label = label
	}
	if doc, ok := raw["doc"].(string); ok {
		base.Doc = doc
	}

	var err error
	base.Requirements, err = parseRequirementList(raw["requirements"], true)
	if err != nil {
		return nil, err
	}
	base.Hints, err = parseRequirementList(raw["hints"], false)
	if err != nil {
		return nil, err
	}

	schemaTypes := collectSchemaDefTypes(base.Requirements)
	for id, t := range l.fragmentTypes() {
		if _, exists := schemaTypes[id]; !exists {
			schemaTypes[id] = t
		}
	}

	base.Inputs, err = parseParameterList(raw["inputs"], true, schemaTypes)
	if err != nil {
		return nil, NewParseError("failed to parse inputs", err)
	}
	base.Outputs, err = parseParameterList(raw["outputs"], false, schemaTypes)
	if err != nil {
		return nil, NewParseError("failed to parse outputs", err)
	}

	result := &Document{}
	switch class {
	case ClassCommandLineTool:
		tool, err := parseCommandLineTool(base, raw)
		if err != nil {
			return nil, err
		}
		result.Tool = tool
	case ClassExpressionTool:
		expr, _ := raw["expression"].(string)
		result.ExprTool = &ExpressionTool{ProcessBase: base, Expression: expr}
	case ClassWorkflow:
		wf, err := parseWorkflow(base, raw, schemaTypes)
		if err != nil {
			return nil, err
		}
		result.Workflow = wf
	default:
		return nil, NewParseError(fmt.Sprintf("unsupported class %q", class), nil)
	}

	return result, nil
}

// ContentHash computes a content-addressable fingerprint for a document's
// raw bytes, mirroring the teacher's parser.ContentHash.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

func collectSchemaDefTypes(reqs []Requirement) map[string]*Type {
	named := map[string]*Type{}
	for _, r := range reqs {
		if r.Class != ReqSchemaDef {
			continue
		}
		for _, t := range r.SchemaDefTypes {
			if t.Name != "" {
				named[t.Name] = t
			}
		}
	}
	return named
}

func parseParameterList(raw interface{}, isInput bool, named map[string]*Type) ([]Parameter, error) {
	if raw == nil {
		return nil, nil
	}
	toMap := func(id string, val interface{}) map[string]interface{} {
		m := map[string]interface{}{}
		switch vv := val.(type) {
		case map[string]interface{}:
			for k, v := range vv {
				m[k] = v
			}
		default:
			m["type"] = vv
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
			case map[string]interface{}:
				entries = append(entries, iv)
			case string:
				entries = append(entries, map[string]interface{}{"id": iv, "type": "string"})
			default:
				return nil, NewParseError("invalid parameter entry", nil)
			}
		}
	case map[string]interface{}:
		for id, val := range v {
			entries = append(entries, toMap(id, val))
		}
	default:
		return nil, NewParseError("invalid parameter list", nil)
	}

	var params []Parameter
	for _, m := range entries {
		p, err := parseParameter(m, isInput, named)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

func parseParameter(m map[string]interface{}, isInput bool, named map[string]*Type) (Parameter, error) {
	p := Parameter{}
	id, ok := m["id"].(string)
	if !ok {
		return p, NewParseError("parameter missing id", nil)
	}
	p.ID = id

	rawType, ok := m["type"]
	if !ok {
		return p, NewParseError(fmt.Sprintf("parameter %s missing type", id), nil)
	}
	t, err := ParseType(rawType)
	if err != nil {
		return p, NewParseError(fmt.Sprintf("parameter %s has invalid type", id), err)
	}
	resolveNamedTypes(t, named)
	p.Type = t

	if label, ok := m["label"].(string); ok {
		p.Label = label
	}
	if doc, ok := m["doc"].(string); ok {
		p.Doc = doc
	}
	if def, ok := m["default"]; ok {
		p.Default = def
		p.HasDefault = true
	}
	if streamable, ok := m["streamable"].(bool); ok {
		p.Streamable = streamable
	}
	if format, ok := m["format"].(string); ok {
		p.Format = format
	}
	if sf, ok := m["secondaryFiles"]; ok {
		p.SecondaryFiles = parseSecondaryFiles(sf)
	}

	if isInput {
		if ib, ok := m["inputBinding"].(map[string]interface{}); ok {
			p.InputBinding = parseCommandLineBinding(ib)
		}
	} else {
		if ob, ok := m["outputBinding"].(map[string]interface{}); ok {
			p.OutputBinding = &CommandOutputBinding{}
			if glob, ok := ob["glob"]; ok {
				p.OutputBinding.Glob = glob
			}
			if lc, ok := ob["loadContents"].(bool); ok {
				p.OutputBinding.LoadContents = lc
			}
			if oe, ok := ob["outputEval"].(string); ok {
				p.OutputBinding.OutputEval = oe
			}
		}
	}

	return p, nil
}

// resolveNamedTypes replaces placeholder KindRecord{Name: X} leaves that
// reference a SchemaDefRequirement type by that type's real definition.
func resolveNamedTypes(t *Type, named map[string]*Type) {
	if t == nil || len(named) == 0 {
		return
	}
	switch t.Kind {
	case KindRecord:
		if t.Fields == nil && t.Name != "" {
			if real, ok := named[t.Name]; ok && real != t {
				*t = *real
			}
		}
		for i := range t.Fields {
			resolveNamedTypes(t.Fields[i].Type, named)
		}
	case KindArray:
		resolveNamedTypes(t.Items, named)
	case KindUnion:
		for _, alt := range t.Alts {
			resolveNamedTypes(alt, named)
		}
	}
}

func parseSecondaryFiles(raw interface{}) []SecondaryFileSpec {
	var specs []SecondaryFileSpec
	add := func(v interface{}) {
		switch iv := v.(type) {
		case string:
			specs = append(specs, SecondaryFileSpec{Pattern: iv})
		case map[string]interface{}:
			spec := SecondaryFileSpec{}
			if pattern, ok := iv["pattern"].(string); ok {
				spec.Pattern = pattern
			}
			if req, ok := iv["required"].(bool); ok {
				spec.Required = &req
			}
			specs = append(specs, spec)
		}
	}
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			add(item)
		}
	default:
		add(v)
	}
	return specs
}

func parseCommandLineBinding(m map[string]interface{}) *CommandLineBinding {
	b := &CommandLineBinding{Separate: true}
	if lc, ok := m["loadContents"].(bool); ok {
		b.LoadContents = lc
	}
	if pos, ok := m["position"]; ok {
		b.Position = toInt(pos)
	}
	if prefix, ok := m["prefix"].(string); ok {
		b.Prefix = prefix
		b.HasPrefix = true
	}
	if sep, ok := m["separate"].(bool); ok {
		b.Separate = sep
	}
	if itemSep, ok := m["itemSeparator"].(string); ok {
		b.ItemSeparator = itemSep
	}
	if vf, ok := m["valueFrom"].(string); ok {
		b.ValueFrom = vf
	}
	if sq, ok := m["shellQuote"].(bool); ok {
		b.ShellQuote = sq
		b.HasShellQuote = true
	} else {
		b.ShellQuote = true
	}
	return b
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func parseRequirementList(raw interface{}, strict bool) ([]Requirement, error) {
	if raw == nil {
		return nil, nil
	}
	toEntry := func(class string, val interface{}) map[string]interface{} {
		m := map[string]interface{}{"class": class}
		if vm, ok := val.(map[string]interface{}); ok {
			for k, v := range vm {
				m[k] = v
			}
		}
		return m
	}

	var entries []map[string]interface{}
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, NewParseError("requirement entry must be a mapping", nil)
			}
			entries = append(entries, m)
		}
	case map[string]interface{}:
		for class, val := range v {
			entries = append(entries, toEntry(class, val))
		}
	default:
		return nil, NewParseError("invalid requirements list", nil)
	}

	var out []Requirement
	for _, m := range entries {
		r, err := parseRequirement(m, strict)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func parseRequirement(m map[string]interface{}, strict bool) (Requirement, error) {
	class, ok := m["class"].(string)
	if !ok {
		return Requirement{}, NewParseError("requirement missing class", nil)
	}
	rc := RequirementClass(class)
	if !knownRequirementClasses[rc] {
		if strict {
			return Requirement{}, NewParseError(fmt.Sprintf("unsupported requirement class %q", class), nil)
		}
		return Requirement{Class: rc, Opaque: m}, nil
	}

	r := Requirement{Class: rc}
	switch rc {
	case ReqDocker:
		r.DockerPull, _ = m["dockerPull"].(string)
		r.DockerImageID, _ = m["dockerImageId"].(string)
		r.DockerOutputDir, _ = m["dockerOutputDirectory"].(string)

	case ReqInlineJavascript:
		if lib, ok := m["expressionLib"].([]interface{}); ok {
			for _, item := range lib {
				if s, ok := item.(string); ok {
					r.ExpressionLib = append(r.ExpressionLib, s)
				}
			}
		}

	case ReqSchemaDef:
		types, ok := m["types"].([]interface{})
		if !ok {
			return r, NewParseError("SchemaDefRequirement missing types", nil)
		}
		for _, raw := range types {
			t, err := ParseType(raw)
			if err != nil {
				return r, NewParseError("invalid SchemaDefRequirement type entry", err)
			}
			r.SchemaDefTypes = append(r.SchemaDefTypes, t)
		}

	case ReqInitialWorkDir:
		r.InitialWorkDirListing = m["listing"]

	case ReqEnvVar:
		if envDef, ok := m["envDef"].([]interface{}); ok {
			for _, item := range envDef {
				if em, ok := item.(map[string]interface{}); ok {
					name, _ := em["envName"].(string)
					val, _ := em["envValue"].(string)
					r.EnvDef = append(r.EnvDef, EnvVarDef{EnvName: name, EnvValue: val})
				}
			}
		}

	case ReqResource:
		r.CoresMin = m["coresMin"]
		r.CoresMax = m["coresMax"]
		r.RAMMin = m["ramMin"]
		r.RAMMax = m["ramMax"]
	}

	return r, nil
}
