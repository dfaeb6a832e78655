package cwl

import (
	"strings"
	"testing"
)

func TestArgKeyLess_PositionThenIntBeforeString(t *testing.T) {
	tokens := []argToken{
		{position: 1, sourceIsInt: false, sourceStr: "b"},
		{position: 0, sourceIsInt: true, sourceInt: 2},
		{position: 1, sourceIsInt: true, sourceInt: 5},
		{position: 0, sourceIsInt: true, sourceInt: 1},
	}
	if !argKeyLess(tokens[1], tokens[0]) {
		t.Errorf("expected lower position to sort first")
	}
	if !argKeyLess(tokens[2], tokens[0]) {
		t.Errorf("expected int-keyed entries to sort before string-keyed entries at the same position")
	}
	if !argKeyLess(tokens[3], tokens[1]) {
		t.Errorf("expected sourceInt 1 to sort before sourceInt 2 at the same position")
	}
}

func TestCombine_PrefixSeparateRules(t *testing.T) {
	cases := []struct {
		name string
		b    CommandLineBinding
		val  string
		want string
	}{
		{"no prefix", CommandLineBinding{}, "value", "value"},
		{"prefix separate", CommandLineBinding{HasPrefix: true, Prefix: "--flag", Separate: true}, "value", "--flag value"},
		{"prefix joined", CommandLineBinding{HasPrefix: true, Prefix: "--flag=", Separate: false}, "value", "--flag=value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := combine(tc.b, tc.val); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestShellSingleQuote_EscapesEmbeddedQuote(t *testing.T) {
	got := shellSingleQuote("it's here")
	want := `'it'\''s here'`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderTypedValue_BooleanFlag(t *testing.T) {
	b := CommandLineBinding{HasPrefix: true, Prefix: "--verbose"}
	var mounts []string
	text, err := renderTypedValue(&Value{V: true}, b, false, false, &mounts)
	if err != nil {
		t.Fatalf("renderTypedValue: %v", err)
	}
	if text != "--verbose" {
		t.Errorf("got %q", text)
	}

	text, err = renderTypedValue(&Value{V: false}, b, false, false, &mounts)
	if err != nil {
		t.Fatalf("renderTypedValue: %v", err)
	}
	if text != "" {
		t.Errorf("expected false boolean to render nothing, got %q", text)
	}
}

func TestRenderTypedValue_ArrayWithItemSeparator(t *testing.T) {
	b := CommandLineBinding{HasPrefix: true, Prefix: "--ids", Separate: true, ItemSeparator: ","}
	vals := []*Value{{V: int64(1)}, {V: int64(2)}, {V: int64(3)}}
	var mounts []string
	text, err := renderTypedValue(&Value{V: vals}, b, false, false, &mounts)
	if err != nil {
		t.Fatalf("renderTypedValue: %v", err)
	}
	if text != "--ids 1,2,3" {
		t.Errorf("got %q", text)
	}
}

func TestRenderTypedValue_RecordIsUnsupported(t *testing.T) {
	var mounts []string
	_, err := renderTypedValue(&Value{V: map[string]*Value{"a": {V: int64(1)}}}, CommandLineBinding{}, false, false, &mounts)
	if err == nil {
		t.Fatal("expected record rendering to fail")
	}
}

func TestMaterialize_SimpleEchoTool(t *testing.T) {
	doc, err := NewLoader().LoadBytes([]byte(echoCWL))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	coerced, err := BuildInputsEnv(doc.Tool.Inputs, map[string]interface{}{"message": "hello world"}, "/work")
	if err != nil {
		t.Fatalf("BuildInputsEnv: %v", err)
	}
	rt := &RuntimeRecord{Outdir: "/out", Tmpdir: "/tmp", Cores: 1, RAM: 1024}
	evaluator := NewEvaluator(nil)

	line, err := Materialize(doc.Tool, coerced, nil, false, rt, evaluator, false)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if !strings.Contains(line, "echo") {
		t.Errorf("expected echo in command line: %q", line)
	}
	if !strings.Contains(line, "'hello world'") {
		t.Errorf("expected shell-quoted message: %q", line)
	}
	if !strings.Contains(line, "> /out/output.stdout") {
		t.Errorf("expected stdout redirection: %q", line)
	}
}

func TestMaterialize_DockerWrapsWithFixedFlags(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
requirements:
  DockerRequirement:
    dockerPull: debian:9
baseCommand: echo
inputs: []
outputs: []
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	coerced, err := BuildInputsEnv(doc.Tool.Inputs, map[string]interface{}{}, "/work")
	if err != nil {
		t.Fatalf("BuildInputsEnv: %v", err)
	}
	rt := &RuntimeRecord{Outdir: "/out", Tmpdir: "/tmp"}
	line, err := Materialize(doc.Tool, coerced, nil, false, rt, NewEvaluator(nil), false)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	for _, want := range []string{"docker run", "-i", "--read-only", "--rm", "debian:9", "--env=TMPDIR=/tmp"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in docker command line: %q", want, line)
		}
	}
}

func TestMaterialize_UnsuppliedRequiredInputRendersPlaceholder(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
baseCommand: cowsay
inputs:
  message:
    type: string
    inputBinding:
      position: 1
outputs: []
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	coerced, err := BuildInputsEnv(doc.Tool.Inputs, map[string]interface{}{}, "/work")
	if err != nil {
		t.Fatalf("BuildInputsEnv: %v", err)
	}
	if coerced["message"] != Uninstantiated {
		t.Fatalf("expected message to be Uninstantiated, got %v", coerced["message"])
	}
	rt := &RuntimeRecord{Outdir: "/out", Tmpdir: "/tmp"}
	line, err := Materialize(doc.Tool, coerced, nil, false, rt, NewEvaluator(nil), false)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if !strings.Contains(line, "'$message'") {
		t.Errorf("expected a $message placeholder token in %q", line)
	}
	if !strings.Contains(line, "  ") {
		t.Errorf("expected a double space where the unsupplied input would appear in %q", line)
	}
}

func TestMaterialize_DockerHintOnlyRequiresDockerAvailable(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
hints:
  DockerRequirement:
    dockerPull: debian:9
baseCommand: echo
inputs: []
outputs: []
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	coerced, err := BuildInputsEnv(doc.Tool.Inputs, map[string]interface{}{}, "/work")
	if err != nil {
		t.Fatalf("BuildInputsEnv: %v", err)
	}
	rt := &RuntimeRecord{Outdir: "/out", Tmpdir: "/tmp"}

	line, err := Materialize(doc.Tool, coerced, nil, false, rt, NewEvaluator(nil), false)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if strings.Contains(line, "docker run") {
		t.Errorf("expected no docker invocation when DockerRequirement is only a hint and no docker binary is available: %q", line)
	}

	line, err = Materialize(doc.Tool, coerced, nil, false, rt, NewEvaluator(nil), true)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if !strings.Contains(line, "docker run") {
		t.Errorf("expected a docker invocation when DockerRequirement is a hint and a docker binary is available: %q", line)
	}
}

func TestMaterialize_ArgumentsRespectPosition(t *testing.T) {
	src := `
cwlVersion: v1.0
class: CommandLineTool
baseCommand: sh
arguments:
  - position: 2
    valueFrom: second
  - position: 1
    valueFrom: first
inputs: []
outputs: []
`
	doc, err := NewLoader().LoadBytes([]byte(src))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	coerced, err := BuildInputsEnv(doc.Tool.Inputs, map[string]interface{}{}, "/work")
	if err != nil {
		t.Fatalf("BuildInputsEnv: %v", err)
	}
	rt := &RuntimeRecord{Outdir: "/out", Tmpdir: "/tmp"}
	line, err := Materialize(doc.Tool, coerced, nil, false, rt, NewEvaluator(nil), false)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	firstIdx := strings.Index(line, "'first'")
	secondIdx := strings.Index(line, "'second'")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Errorf("expected first before second in %q", line)
	}
}

func TestDeriveRuntime_Defaults(t *testing.T) {
	base := &ProcessBase{}
	rt, err := DeriveRuntime(base, Env{}, NewEvaluator(nil), "/out", "/tmp", nil)
	if err != nil {
		t.Fatalf("DeriveRuntime: %v", err)
	}
	if rt.RAM != 1024 {
		t.Errorf("expected default RAM 1024, got %d", rt.RAM)
	}
	if rt.Outdir != "/out" || rt.Tmpdir != "/tmp" {
		t.Errorf("unexpected outdir/tmpdir: %+v", rt)
	}
}

func TestDeriveRuntime_CoresMaxLessThanMinErrors(t *testing.T) {
	base := &ProcessBase{
		Requirements: []Requirement{{Class: ReqResource, CoresMin: 4, CoresMax: 2}},
	}
	_, err := DeriveRuntime(base, Env{}, NewEvaluator(nil), "/out", "/tmp", nil)
	if err == nil {
		t.Fatal("expected error when coresMax < coresMin")
	}
}

func TestDeriveRuntime_RAMBounds(t *testing.T) {
	base := &ProcessBase{
		Requirements: []Requirement{{Class: ReqResource, RAMMin: 2048}},
	}
	rt, err := DeriveRuntime(base, Env{}, NewEvaluator(nil), "/out", "/tmp", nil)
	if err != nil {
		t.Fatalf("DeriveRuntime: %v", err)
	}
	if rt.RAM != 2048 {
		t.Errorf("expected ramMin to raise the default, got %d", rt.RAM)
	}
}

func TestMaterializeExpressionTool_EmitsEchoJSON(t *testing.T) {
	tool := &ExpressionTool{
		ProcessBase: ProcessBase{Requirements: []Requirement{{Class: ReqInlineJavascript}}},
		Expression:  "$(inputs.total)",
	}
	coerced := map[string]interface{}{"total": &Value{V: int64(3)}}
	rt := &RuntimeRecord{Outdir: "/out", Tmpdir: "/tmp"}
	line, err := MaterializeExpressionTool(tool, coerced, nil, true, rt, NewEvaluator(nil))
	if err != nil {
		t.Fatalf("MaterializeExpressionTool: %v", err)
	}
	if !strings.Contains(line, "echo") || !strings.Contains(line, "> cwl.output.json") {
		t.Errorf("unexpected output: %q", line)
	}
	if !strings.Contains(line, "3") {
		t.Errorf("expected serialized value in output: %q", line)
	}
}
