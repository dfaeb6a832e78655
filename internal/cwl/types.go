// Package cwl parses Common Workflow Language v1.0 documents, resolves
// their schema, evaluates embedded expressions, and materializes the
// command line a tool would run.
package cwl

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// CWLVersion10 is the only version this package understands.
const CWLVersion10 = "v1.0"

// Class names for the three process document variants.
const (
	ClassCommandLineTool = "CommandLineTool"
	ClassExpressionTool  = "ExpressionTool"
	ClassWorkflow        = "Workflow"
)

// Kind identifies a member of the CWL type algebra (spec §3).
type Kind string

const (
	KindNull      Kind = "null"
	KindBoolean   Kind = "boolean"
	KindInt       Kind = "int"
	KindLong      Kind = "long"
	KindFloat     Kind = "float"
	KindDouble    Kind = "double"
	KindString    Kind = "string"
	KindFile      Kind = "File"
	KindDirectory Kind = "Directory"
	KindAny       Kind = "Any"
	KindArray     Kind = "array"
	KindRecord    Kind = "record"
	KindEnum      Kind = "enum"
	KindUnion     Kind = "union"
	KindStdout    Kind = "stdout"
	KindStderr    Kind = "stderr"
)

var scalarKinds = map[string]Kind{
	"null": KindNull, "boolean": KindBoolean, "int": KindInt, "long": KindLong,
	"float": KindFloat, "double": KindDouble, "string": KindString,
	"File": KindFile, "Directory": KindDirectory, "Any": KindAny,
	"stdout": KindStdout, "stderr": KindStderr,
}

// Type is a node in the closed CWL type algebra: primitive, array, record,
// enum, or union. Shorthands (`T?`, `T[]`) are desugared by ParseType
// before a Type ever exists, so everything downstream sees only the
// canonical forms described in spec §3.
type Type struct {
	Kind    Kind
	Items   *Type   // KindArray
	Fields  []Field // KindRecord
	Symbols []string // KindEnum
	Alts    []*Type  // KindUnion, in declaration order
	Name    string   // named record/enum/type-alias, optional
}

// Field is one member of a record type.
type Field struct {
	Name    string
	Type    *Type
	Binding *CommandLineBinding
	Doc     string
}

// IsOptional reports whether null is among the type's alternatives.
func (t *Type) IsOptional() bool {
	if t == nil {
		return true
	}
	if t.Kind == KindNull {
		return true
	}
	if t.Kind == KindUnion {
		for _, alt := range t.Alts {
			if alt.Kind == KindNull {
				return true
			}
		}
	}
	return false
}

// NonNullAlternatives returns the type's non-null alternatives in
// declaration order. For a non-union type this is just []*Type{t}.
func (t *Type) NonNullAlternatives() []*Type {
	if t.Kind != KindUnion {
		return []*Type{t}
	}
	var out []*Type
	for _, alt := range t.Alts {
		if alt.Kind != KindNull {
			out = append(out, alt)
		}
	}
	return out
}

// String renders the type using CWL shorthand (`T?`, `T[]`) where possible.
func (t *Type) String() string {
	if t == nil {
		return "null"
	}
	switch t.Kind {
	case KindArray:
		return t.Items.String() + "[]"
	case KindUnion:
		nonNull := t.NonNullAlternatives()
		nullable := len(nonNull) != len(t.Alts)
		if len(nonNull) == 1 {
			s := nonNull[0].String()
			if nullable {
				s += "?"
			}
			return s
		}
		parts := make([]string, 0, len(t.Alts))
		for _, alt := range t.Alts {
			parts = append(parts, alt.String())
		}
		return "(" + strings.Join(parts, "|") + ")"
	case KindRecord, KindEnum:
		if t.Name != "" {
			return t.Name
		}
		return string(t.Kind)
	default:
		return string(t.Kind)
	}
}

// MarshalJSON renders the canonical shorthand string, mirroring the
// teacher's CWLType.MarshalJSON.
func (t *Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ParseType normalizes any of CWL's surface forms for a type into the
// canonical Type algebra (spec §4.2).
func ParseType(raw interface{}) (*Type, error) {
	switch v := raw.(type) {
	case string:
		return parseTypeString(v)

	case []interface{}:
		alts := make([]*Type, 0, len(v))
		for _, item := range v {
			alt, err := ParseType(item)
			if err != nil {
				return nil, err
			}
			alts = append(alts, alt)
		}
		return normalizeUnion(alts), nil

	case map[string]interface{}:
		return parseTypeObject(v)

	case *Type:
		return v, nil

	case nil:
		return &Type{Kind: KindNull}, nil

	default:
		return nil, NewParseError(fmt.Sprintf("unsupported type specification: %T", raw), nil)
	}
}

func parseTypeString(s string) (*Type, error) {
	if strings.HasSuffix(s, "?") {
		inner, err := parseTypeString(strings.TrimSuffix(s, "?"))
		if err != nil {
			return nil, err
		}
		return normalizeUnion([]*Type{inner, {Kind: KindNull}}), nil
	}
	if strings.HasSuffix(s, "[]") {
		inner, err := parseTypeString(strings.TrimSuffix(s, "[]"))
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindArray, Items: inner}, nil
	}
	if s == "" {
		return nil, NewParseError("empty type name", nil)
	}
	if k, ok := scalarKinds[s]; ok {
		return &Type{Kind: k}, nil
	}
	// A bare identifier that isn't a known scalar is a named reference
	// (e.g. to a SchemaDefRequirement record/enum, or a '#fragment').
	return &Type{Kind: KindRecord, Name: s}, nil
}

func parseTypeObject(m map[string]interface{}) (*Type, error) {
	typeStr, _ := m["type"].(string)
	switch typeStr {
	case "array":
		items, ok := m["items"]
		if !ok {
			return nil, NewParseError("array type missing 'items'", nil)
		}
		itemType, err := ParseType(items)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindArray, Items: itemType}, nil

	case "record":
		fields, err := parseFields(m["fields"])
		if err != nil {
			return nil, err
		}
		name, _ := m["name"].(string)
		return &Type{Kind: KindRecord, Fields: fields, Name: name}, nil

	case "enum":
		symbols, err := parseEnumSymbols(m["symbols"])
		if err != nil {
			return nil, err
		}
		name, _ := m["name"].(string)
		return &Type{Kind: KindEnum, Symbols: symbols, Name: name}, nil

	case "":
		return nil, NewParseError("type object missing 'type'", nil)

	default:
		return parseTypeString(typeStr)
	}
}

func parseFields(raw interface{}) ([]Field, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		var fields []Field
		for _, item := range v {
			fm, ok := item.(map[string]interface{})
			if !ok {
				return nil, NewParseError("record field must be a mapping", nil)
			}
			name, _ := fm["name"].(string)
			ft, err := ParseType(fm["type"])
			if err != nil {
				return nil, err
			}
			var binding *CommandLineBinding
			if ib, ok := fm["inputBinding"].(map[string]interface{}); ok {
				binding = parseCommandLineBinding(ib)
			}
			doc, _ := fm["doc"].(string)
			fields = append(fields, Field{Name: name, Type: ft, Binding: binding, Doc: doc})
		}
		return fields, nil
	case map[string]interface{}:
		// mapping form: name -> type-or-shorthand-object.
		var fields []Field
		for name, val := range v {
			m, _ := val.(map[string]interface{})
			var fieldRaw interface{} = val
			var binding *CommandLineBinding
			var doc string
			if m != nil {
				if _, hasType := m["type"]; hasType {
					fieldRaw = m["type"]
					if ib, ok := m["inputBinding"].(map[string]interface{}); ok {
						binding = parseCommandLineBinding(ib)
					}
					doc, _ = m["doc"].(string)
				}
			}
			ft, err := ParseType(fieldRaw)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: name, Type: ft, Binding: binding, Doc: doc})
		}
		return fields, nil
	default:
		return nil, NewParseError(fmt.Sprintf("unsupported record fields: %T", raw), nil)
	}
}

func parseEnumSymbols(raw interface{}) ([]string, error) {
	v, ok := raw.([]interface{})
	if !ok {
		return nil, NewParseError("enum type missing 'symbols'", nil)
	}
	var symbols []string
	for _, s := range v {
		str, ok := s.(string)
		if !ok {
			return nil, NewParseError("enum symbol must be a string", nil)
		}
		symbols = append(symbols, str)
	}
	return symbols, nil
}

// normalizeUnion flattens nested unions and de-duplicates repeated
// alternatives, collapsing a single-alternative union to that alternative.
func normalizeUnion(alts []*Type) *Type {
	var flat []*Type
	add := func(t *Type) {
		for _, f := range flat {
			if reflect.DeepEqual(f, t) {
				return
			}
		}
		flat = append(flat, t)
	}
	for _, a := range alts {
		if a.Kind == KindUnion {
			for _, inner := range a.Alts {
				add(inner)
			}
		} else {
			add(a)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Type{Kind: KindUnion, Alts: flat}
}

// CommandLineBinding describes how a value contributes to a command line
// (spec §3/§4.6), attached either to a Parameter or standalone in
// Arguments.
type CommandLineBinding struct {
	LoadContents  bool
	Position      int
	Prefix        string
	HasPrefix     bool
	Separate      bool
	ItemSeparator string
	ValueFrom     string
	ShellQuote    bool
	HasShellQuote bool
}

// CommandOutputBinding describes how an output is collected (glob
// evaluation itself is out of scope; we retain the declaration).
type CommandOutputBinding struct {
	Glob         interface{}
	LoadContents bool
	OutputEval   string
}

// SecondaryFileSpec is one declared secondaryFiles pattern.
type SecondaryFileSpec struct {
	Pattern  string
	Required *bool
}

// Parameter is a CWL input or output parameter.
type Parameter struct {
	ID             string
	Type           *Type
	Label          string
	Doc            string
	Default        interface{}
	HasDefault     bool
	SecondaryFiles []SecondaryFileSpec
	Format         string
	Streamable     bool

	// Input-only.
	InputBinding *CommandLineBinding

	// Output-only.
	OutputBinding *CommandOutputBinding
}

// EnvVarDef is one EnvVarRequirement entry.
type EnvVarDef struct {
	EnvName  string
	EnvValue string
}

// RequirementClass enumerates the known requirement/hint classes (spec §3).
type RequirementClass string

const (
	ReqInlineJavascript  RequirementClass = "InlineJavascriptRequirement"
	ReqSchemaDef         RequirementClass = "SchemaDefRequirement"
	ReqDocker            RequirementClass = "DockerRequirement"
	ReqSoftware          RequirementClass = "SoftwareRequirement"
	ReqInitialWorkDir    RequirementClass = "InitialWorkDirRequirement"
	ReqEnvVar            RequirementClass = "EnvVarRequirement"
	ReqShellCommand      RequirementClass = "ShellCommandRequirement"
	ReqResource          RequirementClass = "ResourceRequirement"
	ReqSubworkflow       RequirementClass = "SubworkflowFeatureRequirement"
	ReqScatterFeature    RequirementClass = "ScatterFeatureRequirement"
	ReqMultipleInput     RequirementClass = "MultipleInputFeatureRequirement"
	ReqStepInputExpr     RequirementClass = "StepInputExpressionRequirement"
)

var knownRequirementClasses = map[RequirementClass]bool{
	ReqInlineJavascript: true, ReqSchemaDef: true, ReqDocker: true,
	ReqSoftware: true, ReqInitialWorkDir: true, ReqEnvVar: true,
	ReqShellCommand: true, ReqResource: true, ReqSubworkflow: true,
	ReqScatterFeature: true, ReqMultipleInput: true, ReqStepInputExpr: true,
}

// Requirement is a tagged variant over the closed requirement/hint set.
// An unrecognized class inside `hints` is retained as Opaque; inside
// `requirements` it is a ParseError (spec §3).
type Requirement struct {
	Class RequirementClass
	Opaque map[string]interface{} // set iff this is an opaque hint

	DockerPull      string
	DockerImageID   string
	DockerOutputDir string

	ExpressionLib []string

	SchemaDefTypes []*Type

	InitialWorkDirListing interface{}

	EnvDef []EnvVarDef

	CoresMin interface{}
	CoresMax interface{}
	RAMMin   interface{}
	RAMMax   interface{}
}

// File is a CWL File value, either a literal declared in a job document or
// the result of evaluating one against a document directory (spec §3).
type File struct {
	Class          string // always "File"
	Location       string
	Path           string
	Basename       string
	Dirname        string
	Nameroot       string
	Nameext        string
	Checksum       string
	Size           int64
	HasSize        bool
	SecondaryFiles []interface{} // []*File or []*Directory
	Format         string
	Contents       string
}

// Directory is a CWL Directory value.
type Directory struct {
	Class    string // always "Directory"
	Location string
	Path     string
	Basename string
	Listing  []interface{} // []*File or []*Directory
}

// ProcessBase holds the fields common to all three process document
// variants.
type ProcessBase struct {
	CWLVersion   string
	Class        string
	ID           string
	Label        string
	Doc          string
	Inputs       []Parameter
	Outputs      []Parameter
	Requirements []Requirement
	Hints        []Requirement
}

// CommandLineTool is a CWL CommandLineTool document.
type CommandLineTool struct {
	ProcessBase
	BaseCommand         []string
	Arguments           []ArgumentBinding
	Stdin               string
	Stdout              string
	Stderr              string
	SuccessCodes        []int
	TemporaryFailCodes  []int
	PermanentFailCodes  []int
}

// ArgumentBinding is one element of `arguments`: either a bare string
// (sugar for {valueFrom: value}, held in Literal) or a full binding whose
// value comes from its valueFrom.
type ArgumentBinding struct {
	CommandLineBinding
	Literal    string
	HasLiteral bool
}

// ExpressionTool is a CWL ExpressionTool document.
type ExpressionTool struct {
	ProcessBase
	Expression string
}

// Workflow is a CWL Workflow document.
type Workflow struct {
	ProcessBase
	Steps []Step
}

// Step is one entry in a Workflow's `steps`.
type Step struct {
	ID            string
	In            []StepInput
	Out           []string
	Run           interface{} // string ref, or *CommandLineTool/*ExpressionTool/*Workflow
	Requirements  []Requirement
	Hints         []Requirement
	When          string
	Scatter       []string
	ScatterMethod string
}

// StepInput is one entry in a Step's `in`.
type StepInput struct {
	ID        string
	Source    []string
	Default   interface{}
	ValueFrom string
	LinkMerge string
}

// Document is the union of the three process variants produced by the
// schema loader, plus the fragment-id table collected from the raw tree.
// The raw tree itself is not kept; the navigator works from ToTree's
// projection of the typed variants.
type Document struct {
	Tool     *CommandLineTool
	ExprTool *ExpressionTool
	Workflow *Workflow

	// Fragments maps every `id` found anywhere in the loaded tree to its
	// raw node; record/enum definitions among them resolve as named types
	// in `type` fields. A packed ($graph) document, which has no root
	// `class`, is rejected by the loader.
	Fragments map[string]interface{}
}

// Base returns the ProcessBase shared across whichever variant is set.
func (d *Document) Base() *ProcessBase {
	switch {
	case d.Tool != nil:
		return &d.Tool.ProcessBase
	case d.ExprTool != nil:
		return &d.ExprTool.ProcessBase
	case d.Workflow != nil:
		return &d.Workflow.ProcessBase
	default:
		return nil
	}
}

// Class returns the document's CWL class.
func (d *Document) Class() string {
	if b := d.Base(); b != nil {
		return b.Class
	}
	return ""
}

// HasRequirement reports whether class appears in requirements or hints.
func (b *ProcessBase) HasRequirement(class RequirementClass) bool {
	for _, r := range b.Requirements {
		if r.Class == class {
			return true
		}
	}
	for _, r := range b.Hints {
		if r.Class == class {
			return true
		}
	}
	return false
}

// Requirement returns the first requirement or hint of the given class,
// preferring requirements over hints (requirements are mandatory).
func (b *ProcessBase) Requirement(class RequirementClass) *Requirement {
	for i := range b.Requirements {
		if b.Requirements[i].Class == class {
			return &b.Requirements[i]
		}
	}
	for i := range b.Hints {
		if b.Hints[i].Class == class {
			return &b.Hints[i]
		}
	}
	return nil
}

// RequirementStrict returns the requirement of the given class, looking
// only at b.Requirements (never b.Hints). A hint alone never satisfies a
// caller that needs the mandatory form.
func (b *ProcessBase) RequirementStrict(class RequirementClass) *Requirement {
	for i := range b.Requirements {
		if b.Requirements[i].Class == class {
			return &b.Requirements[i]
		}
	}
	return nil
}

// ExpressionLib concatenates every InlineJavascriptRequirement's
// expressionLib entries declared on the process, requirement first.
func (b *ProcessBase) ExpressionLib() []string {
	var lib []string
	for _, r := range b.Requirements {
		if r.Class == ReqInlineJavascript {
			lib = append(lib, r.ExpressionLib...)
		}
	}
	for _, r := range b.Hints {
		if r.Class == ReqInlineJavascript {
			lib = append(lib, r.ExpressionLib...)
		}
	}
	return lib
}

// InlineJavascriptEnabled reports whether $(...)/${...} JS evaluation is
// permitted on this process (spec §4.4).
func (b *ProcessBase) InlineJavascriptEnabled() bool {
	return b.HasRequirement(ReqInlineJavascript)
}
