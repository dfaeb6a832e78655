package cwl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const echoCWL = `
cwlVersion: v1.0
class: CommandLineTool
baseCommand: echo
inputs:
  message:
    type: string
    inputBinding:
      position: 1
outputs:
  output:
    type: stdout
`

func TestLoader_LoadBytes_CommandLineTool(t *testing.T) {
	doc, err := NewLoader().LoadBytes([]byte(echoCWL))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if doc.Tool == nil {
		t.Fatal("expected a CommandLineTool")
	}
	if len(doc.Tool.BaseCommand) != 1 || doc.Tool.BaseCommand[0] != "echo" {
		t.Errorf("unexpected baseCommand: %v", doc.Tool.BaseCommand)
	}
	if len(doc.Tool.Inputs) != 1 || doc.Tool.Inputs[0].ID != "message" {
		t.Fatalf("unexpected inputs: %+v", doc.Tool.Inputs)
	}
	if doc.Tool.Outputs[0].Type.Kind != KindStdout {
		t.Errorf("expected stdout output kind, got %v", doc.Tool.Outputs[0].Type.Kind)
	}
	if doc.Tool.Stdout != "output.stdout" {
		t.Errorf("expected synthesized stdout filename, got %q", doc.Tool.Stdout)
	}
}

func TestLoader_LoadBytes_MissingCWLVersion(t *testing.T) {
	_, err := NewLoader().LoadBytes([]byte(`class: CommandLineTool`))
	if err == nil {
		t.Fatal("expected error for missing cwlVersion")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Errorf("expected *ParseError, got %T", err)
	}
}

func TestLoader_LoadBytes_UnsupportedVersion(t *testing.T) {
	_, err := NewLoader().LoadBytes([]byte("cwlVersion: v1.2\nclass: CommandLineTool\n"))
	if err == nil {
		t.Fatal("expected error for unsupported cwlVersion")
	}
}

func TestLoader_LoadBytes_UnknownClass(t *testing.T) {
	_, err := NewLoader().LoadBytes([]byte("cwlVersion: v1.0\nclass: Bogus\n"))
	if err == nil {
		t.Fatal("expected error for unknown class")
	}
}

func TestLoader_LoadBytes_ExpressionTool(t *testing.T) {
	src := `
cwlVersion: v1.0
class: ExpressionTool
requirements:
  InlineJavascriptRequirement: {}
inputs:
  nums:
    type: int[]
outputs:
  total:
    type: int
expression: "$({'total': inputs.nums.length})"
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if doc.ExprTool == nil {
		t.Fatal("expected an ExpressionTool")
	}
	if !doc.ExprTool.InlineJavascriptEnabled() {
		t.Errorf("expected InlineJavascriptRequirement to be recognized")
	}
}

func TestLoader_LoadBytes_SchemaDefNamedType(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
requirements:
  SchemaDefRequirement:
    types:
      - type: record
        name: Pair
        fields:
          - name: a
            type: int
baseCommand: echo
inputs:
  pair:
    type: Pair
outputs: []
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	pairType := doc.Tool.Inputs[0].Type
	if pairType.Kind != KindRecord || len(pairType.Fields) != 1 {
		t.Fatalf("expected named type to resolve to the record definition, got %+v", pairType)
	}
}

func TestLoader_LoadBytes_UnsupportedRequirementClassIsFatal(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
requirements:
  MadeUpRequirement: {}
baseCommand: echo
`
	_, err := NewLoader().LoadBytes([]byte(src))
	if err == nil {
		t.Fatal("expected error for unsupported requirement class")
	}
}

func TestLoader_LoadBytes_UnknownHintIsOpaque(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
hints:
  SomeUnknownHint:
    foo: bar
baseCommand: echo
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error for opaque hint: %v", err)
	}
	if len(doc.Tool.Hints) != 1 || doc.Tool.Hints[0].Opaque == nil {
		t.Fatalf("expected an opaque hint, got %+v", doc.Tool.Hints)
	}
}

func TestLoader_LoadBytes_CollectsFragments(t *testing.T) {
	doc, err := NewLoader().LoadBytes([]byte(echoCWL))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if doc.Fragments == nil {
		t.Fatal("expected a non-nil fragment table")
	}
}

func TestLoader_LoadBytes_IsDeterministic(t *testing.T) {
	first, err := NewLoader().LoadBytes([]byte(echoCWL))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	second, err := NewLoader().LoadBytes([]byte(echoCWL))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if diff := cmp.Diff(first.Tool.Inputs[0].Type, second.Tool.Inputs[0].Type); diff != "" {
		t.Errorf("parsing the same document twice produced different input types (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Tool.Outputs, second.Tool.Outputs); diff != "" {
		t.Errorf("parsing the same document twice produced different outputs (-first +second):\n%s", diff)
	}
}

func TestContentHash_Stable(t *testing.T) {
	data := []byte(echoCWL)
	if ContentHash(data) != ContentHash(data) {
		t.Errorf("expected ContentHash to be deterministic")
	}
	if ContentHash(data) == ContentHash([]byte(data[1:])) {
		t.Errorf("expected differing content to hash differently")
	}
}
