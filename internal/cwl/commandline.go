package cwl

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// RuntimeRecord is the `{outdir, tmpdir, cores, ram, docdir}` mapping
// passed to expression evaluation and used to fill in the runtime.*
// parameter references (spec §6).
type RuntimeRecord struct {
	Outdir string
	Tmpdir string
	Cores  int
	RAM    int
	Docdir []string
}

// ToMap renders the record as the plain map the expression evaluator and
// $(runtime.*) references read.
func (r *RuntimeRecord) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"outdir": r.Outdir,
		"tmpdir": r.Tmpdir,
		"cores":  r.Cores,
		"ram":    r.RAM,
		"docdir": r.Docdir,
	}
}

// DocDirSearchPath builds the docdir search list in priority order
// (spec §6): the CWL file's own directory first, then the well-known
// system and user locations.
func DocDirSearchPath(cwlFileDir string) []string {
	path := []string{cwlFileDir, "/usr/share/commonwl", "/usr/local/share/commonwl"}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		path = append(path, xdg+"/commonwl")
	} else if home := os.Getenv("HOME"); home != "" {
		path = append(path, home+"/.local/share/commonwl")
	}
	return path
}

// vardir returns the platform's variable-data root: /var on Linux,
// /private/var on macOS. Any other host is rejected (spec §7).
func vardir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "/var", nil
	case "darwin":
		return "/private/var", nil
	default:
		return "", NewInspectionError(fmt.Sprintf("unsupported platform %s", runtime.GOOS), nil)
	}
}

// DeriveRuntime computes cores/ram from ResourceRequirement, evaluating
// any expression literals; expressions that read Uninstantiated inputs
// are left unresolved (spec §4.6).
func DeriveRuntime(base *ProcessBase, env Env, evaluator *Evaluator, outdir, tmpdir string, docdir []string) (*RuntimeRecord, error) {
	rt := &RuntimeRecord{Outdir: outdir, Tmpdir: tmpdir, Cores: runtime.NumCPU(), RAM: 1024, Docdir: docdir}

	req := base.Requirement(ReqResource)
	if req == nil {
		return rt, nil
	}

	coresMin, err := resolveResourceBound(req.CoresMin, env, evaluator)
	if err != nil {
		return nil, err
	}
	coresMax, err := resolveResourceBound(req.CoresMax, env, evaluator)
	if err != nil {
		return nil, err
	}
	if coresMin != nil && coresMax != nil && *coresMax < *coresMin {
		return nil, NewInspectionError("coresMax < coresMin", nil)
	}
	hostCores := runtime.NumCPU()
	cores := hostCores
	if coresMax != nil {
		cores = *coresMax
	} else if coresMin != nil {
		cores = *coresMin
	}
	if cores > hostCores {
		cores = hostCores
	}
	if coresMin != nil && hostCores < *coresMin {
		return nil, NewInspectionError(fmt.Sprintf("host has %d cores, fewer than coresMin=%d", hostCores, *coresMin), nil)
	}
	rt.Cores = cores

	ramMin, err := resolveResourceBound(req.RAMMin, env, evaluator)
	if err != nil {
		return nil, err
	}
	ramMax, err := resolveResourceBound(req.RAMMax, env, evaluator)
	if err != nil {
		return nil, err
	}
	if ramMin != nil && ramMax != nil && *ramMax < *ramMin {
		return nil, NewInspectionError("ramMax < ramMin", nil)
	}
	ram := 1024
	if ramMax != nil && ram > *ramMax {
		ram = *ramMax
	}
	if ramMin != nil && ram < *ramMin {
		ram = *ramMin
	}
	rt.RAM = ram

	return rt, nil
}

// resolveResourceBound evaluates a ResourceRequirement bound, which may
// be a literal number or an expression string. A nil return means the
// bound was not declared; an unresolved Uninstantiated reference also
// returns nil, leaving the limit unresolved (spec §4.6, Design Notes).
func resolveResourceBound(raw interface{}, env Env, evaluator *Evaluator) (*int, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case int:
		return &v, nil
	case int64:
		n := int(v)
		return &n, nil
	case float64:
		n := int(v)
		return &n, nil
	case string:
		result, err := evaluator.EvaluateString(v, env, nil)
		if err != nil {
			return nil, err
		}
		if s, ok := result.(string); ok && strings.HasPrefix(s, "evaled(") {
			return nil, nil
		}
		n, ok := toFloat(result)
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("resource expression %q did not evaluate to a number", v), nil)
		}
		out := int(n)
		return &out, nil
	default:
		return nil, NewInspectionError(fmt.Sprintf("invalid resource bound %T", raw), nil)
	}
}

// argToken is one assembled command-line fragment awaiting sort+join.
type argToken struct {
	position    int
	sourceIsInt bool
	sourceInt   int
	sourceStr   string
	text        string
}

// argKeyLess implements spec §4.6's stable sort tie-break: equal
// positions order integer-keyed entries before string-keyed ones;
// within the same kind, compare the key itself.
func argKeyLess(a, b argToken) bool {
	if a.position != b.position {
		return a.position < b.position
	}
	if a.sourceIsInt != b.sourceIsInt {
		return a.sourceIsInt
	}
	if a.sourceIsInt {
		return a.sourceInt < b.sourceInt
	}
	return a.sourceStr < b.sourceStr
}

// Materialize builds the exact shell command line for a CommandLineTool
// (spec §4.6). coerced is a BuildInputsEnv result (ids to *Value, or to
// the Uninstantiated/Invalid sentinels). dockerAvailable reports whether
// a docker binary was detected on PATH, used when DockerRequirement is
// only a hint.
func Materialize(tool *CommandLineTool, coerced map[string]interface{}, lib []string, jsEnabled bool, rt *RuntimeRecord, evaluator *Evaluator, dockerAvailable bool) (string, error) {
	env := Env{Inputs: PlainInputs(coerced), Runtime: rt.ToMap(), ExpressionLib: lib, JSEnabled: jsEnabled}

	useDocker := tool.RequirementStrict(ReqDocker) != nil || (dockerAvailable && tool.Requirement(ReqDocker) != nil)
	shellCmdActive := tool.HasRequirement(ReqShellCommand)

	var tokens []argToken
	for i := range tool.BaseCommand {
		tokens = append(tokens, argToken{position: 0, sourceIsInt: true, sourceInt: -1000000 + i, text: tool.BaseCommand[i]})
	}

	for i, arg := range tool.Arguments {
		text, err := renderArgument(arg, env, evaluator, shellCmdActive)
		if err != nil {
			return "", err
		}
		if text == "" {
			continue
		}
		tokens = append(tokens, argToken{position: arg.Position, sourceIsInt: true, sourceInt: i, text: text})
	}

	var inputMounts []string // host_path -> container rewrite bookkeeping, emitted as docker -v flags
	for _, p := range tool.Inputs {
		pos := 0
		if p.InputBinding != nil {
			pos = p.InputBinding.Position
		}
		if coerced[p.ID] == Uninstantiated {
			// An unsupplied required input still occupies its argument
			// slot, rendered as a quoted placeholder naming it.
			tokens = append(tokens, argToken{position: pos, sourceIsInt: false, sourceStr: p.ID, text: " '$" + p.ID + "'"})
			continue
		}
		val, ok := coerced[p.ID].(*Value)
		if !ok || val == nil || val.V == nil {
			continue
		}
		needsBinding := p.InputBinding != nil || p.Type.Kind == KindRecord || p.Type.Kind == KindEnum || p.Type.Kind == KindArray
		if !needsBinding {
			continue
		}
		text, mounts, err := renderParameter(p, val, env, evaluator, shellCmdActive, useDocker)
		if err != nil {
			return "", err
		}
		inputMounts = append(inputMounts, mounts...)
		tokens = append(tokens, argToken{position: pos, sourceIsInt: false, sourceStr: p.ID, text: text})
	}

	sort.SliceStable(tokens, func(i, j int) bool { return argKeyLess(tokens[i], tokens[j]) })

	var parts []string
	for _, t := range tokens {
		if t.text != "" {
			parts = append(parts, t.text)
		}
	}
	innerCmd := strings.Join(parts, " ")

	redir, err := renderRedirections(tool, env, evaluator, rt)
	if err != nil {
		return "", err
	}
	innerCmd += redir

	if useDocker {
		return wrapDocker(tool, rt, innerCmd, inputMounts)
	}
	return wrapShellNoDocker(tool, rt, innerCmd)
}

func renderArgument(arg ArgumentBinding, env Env, evaluator *Evaluator, shellCmdActive bool) (string, error) {
	if arg.HasLiteral {
		result, err := evaluator.EvaluateString(arg.Literal, env, nil)
		if err != nil {
			return "", err
		}
		return renderValueGeneric(result, arg.CommandLineBinding, shellCmdActive)
	}
	if arg.ValueFrom == "" {
		return "", nil
	}
	result, err := evaluator.EvaluateString(arg.ValueFrom, env, nil)
	if err != nil {
		return "", err
	}
	return renderValueGeneric(result, arg.CommandLineBinding, shellCmdActive)
}

// renderParameter renders one input parameter's binding and, when under
// Docker, returns the -v mount flags for any File/Directory values it
// touches, with the rendered path rewritten to the container-side path
// (spec §4.6 container volumes).
func renderParameter(p Parameter, val *Value, env Env, evaluator *Evaluator, shellCmdActive, useDocker bool) (string, []string, error) {
	effective := val
	if p.InputBinding != nil && p.InputBinding.ValueFrom != "" {
		self := ExportValue(val)
		result, err := evaluator.EvaluateString(p.InputBinding.ValueFrom, env, self)
		if err != nil {
			return "", nil, err
		}
		effective = &Value{Type: &Type{Kind: KindAny}, V: result}
	}

	binding := CommandLineBinding{Separate: true, ShellQuote: true}
	if p.InputBinding != nil {
		binding = *p.InputBinding
	}

	var mounts []string
	text, err := renderTypedValue(effective, binding, shellCmdActive, useDocker, &mounts)
	if err != nil {
		return "", nil, NewInspectionError(fmt.Sprintf("input %s", p.ID), err)
	}
	return text, mounts, nil
}

func renderTypedValue(v *Value, b CommandLineBinding, shellCmdActive, useDocker bool, mounts *[]string) (string, error) {
	if v == nil || v.V == nil {
		return "", nil
	}
	switch inner := v.V.(type) {
	case bool:
		if !inner {
			return "", nil
		}
		if b.HasPrefix {
			return b.Prefix, nil
		}
		return "", nil

	case int64:
		return combine(b, strconv.FormatInt(inner, 10)), nil

	case float64:
		return combine(b, strconv.FormatFloat(inner, 'g', -1, 64)), nil

	case string:
		return renderStringToken(inner, b, shellCmdActive)

	case *File:
		path := inner.Path
		if useDocker {
			containerPath, mount := dockerInputMount(inner.Path, inner.Basename)
			*mounts = append(*mounts, mount)
			path = containerPath
		}
		return combine(b, doubleQuote(path)), nil

	case *Directory:
		path := inner.Path
		if useDocker {
			containerPath, mount := dockerInputMount(inner.Path, inner.Basename)
			*mounts = append(*mounts, mount)
			path = containerPath
		}
		return combine(b, doubleQuote(path)), nil

	case []*Value:
		var rendered []string
		for _, item := range inner {
			itemBinding := CommandLineBinding{Separate: true, ShellQuote: b.ShellQuote}
			text, err := renderTypedValue(item, itemBinding, shellCmdActive, useDocker, mounts)
			if err != nil {
				return "", err
			}
			if text != "" {
				rendered = append(rendered, text)
			}
		}
		if len(rendered) == 0 {
			return "", nil
		}
		if b.ItemSeparator != "" {
			return combine(b, strings.Join(rendered, b.ItemSeparator)), nil
		}
		joined := strings.Join(rendered, " ")
		if b.HasPrefix {
			return combine(b, joined), nil
		}
		return joined, nil

	case map[string]*Value:
		return "", NewInspectionError("record rendering in a command line is not supported", nil)

	default:
		return "", NewInspectionError(fmt.Sprintf("cannot render value of type %T", inner), nil)
	}
}

func renderValueGeneric(v interface{}, b CommandLineBinding, shellCmdActive bool) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case bool:
		if !val {
			return "", nil
		}
		if b.HasPrefix {
			return b.Prefix, nil
		}
		return "", nil
	case float64:
		return combine(b, strconv.FormatFloat(val, 'g', -1, 64)), nil
	case string:
		return renderStringToken(val, b, shellCmdActive)
	default:
		return combine(b, fmt.Sprintf("%v", val)), nil
	}
}

func renderStringToken(s string, b CommandLineBinding, shellCmdActive bool) (string, error) {
	quote := b.ShellQuote
	if shellCmdActive && b.HasShellQuote && !b.ShellQuote {
		quote = false
	}
	text := s
	if quote {
		text = shellSingleQuote(s)
	}
	return combine(b, text), nil
}

// combine applies the binding's prefix/separate rule to a rendered
// value, per spec §4.6's "[prefix, value] or [prefix+value]".
func combine(b CommandLineBinding, value string) string {
	if !b.HasPrefix {
		return value
	}
	if !b.Separate {
		return b.Prefix + value
	}
	return b.Prefix + " " + value
}

func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// shellSingleQuote wraps s in single quotes for embedding in the inner
// (unwrapped) command line.
func shellSingleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func dockerInputMount(hostPath, basename string) (containerPath, mountFlag string) {
	vd, _ := vardir()
	containerPath = vd + "/lib/cwl/inputs/" + basename
	return containerPath, fmt.Sprintf("-v %s:%s:ro", hostPath, containerPath)
}

func renderRedirections(tool *CommandLineTool, env Env, evaluator *Evaluator, rt *RuntimeRecord) (string, error) {
	var out strings.Builder
	if tool.Stdin != "" {
		v, err := evaluator.EvaluateString(tool.Stdin, env, nil)
		if err != nil {
			return "", err
		}
		out.WriteString(" < " + stringify(v))
	}
	if tool.Stdout != "" {
		v, err := evaluator.EvaluateString(tool.Stdout, env, nil)
		if err != nil {
			return "", err
		}
		out.WriteString(fmt.Sprintf(" > %s/%s", rt.Outdir, stringify(v)))
	}
	if tool.Stderr != "" {
		v, err := evaluator.EvaluateString(tool.Stderr, env, nil)
		if err != nil {
			return "", err
		}
		out.WriteString(fmt.Sprintf(" 2> %s/%s", rt.Outdir, stringify(v)))
	}
	return out.String(), nil
}

// wrapDocker assembles the docker invocation per spec §4.6's fixed flags
// and volume rules. Per-input mounts are appended directly onto the
// outer command vector, not held in a side variable (resolving the
// Open Question about the source's volume-accumulation bug).
func wrapDocker(tool *CommandLineTool, rt *RuntimeRecord, innerCmd string, inputMounts []string) (string, error) {
	req := tool.Requirement(ReqDocker)
	vd, err := vardir()
	if err != nil {
		return "", err
	}

	workdir := vd + "/spool/cwl"
	if req != nil && req.DockerOutputDir != "" {
		workdir = req.DockerOutputDir
	}

	uid, gid := effectiveIDs()

	cmd := []string{"docker", "run", "-i", "--read-only", "--rm"}
	cmd = append(cmd, fmt.Sprintf("--workdir=%s", workdir))
	cmd = append(cmd, fmt.Sprintf("--env=HOME=%s", workdir))
	cmd = append(cmd, "--env=TMPDIR=/tmp")
	cmd = append(cmd, fmt.Sprintf("--user=%s:%s", uid, gid))
	cmd = append(cmd, "-v", fmt.Sprintf("%s:%s", rt.Outdir, workdir))
	cmd = append(cmd, "-v", fmt.Sprintf("%s:/tmp", rt.Tmpdir))
	for _, m := range inputMounts {
		cmd = append(cmd, strings.Fields(m)...)
	}

	if envReq := tool.Requirement(ReqEnvVar); envReq != nil {
		for _, e := range envReq.EnvDef {
			cmd = append(cmd, fmt.Sprintf("--env=%s='%s'", e.EnvName, e.EnvValue))
		}
	}

	image := "docker/whalesay"
	if req != nil {
		if req.DockerPull != "" {
			image = req.DockerPull
		} else if req.DockerImageID != "" {
			image = req.DockerImageID
		}
	}
	cmd = append(cmd, image)

	shellCmd := "/bin/sh"
	fullInner := innerCmd

	return fmt.Sprintf("%s %s -c %s", strings.Join(cmd, " "), shellCmd, shellSingleQuote(fullInner)), nil
}

// wrapShellNoDocker assembles the non-containerized shell invocation:
// /bin/sh on Linux, /bin/bash on macOS (spec §4.6's echo-behavior note).
func wrapShellNoDocker(tool *CommandLineTool, rt *RuntimeRecord, innerCmd string) (string, error) {
	shell := "/bin/sh"
	if runtime.GOOS == "darwin" {
		shell = "/bin/bash"
	} else if runtime.GOOS != "linux" {
		return "", NewInspectionError(fmt.Sprintf("unsupported platform %s", runtime.GOOS), nil)
	}

	envParts := []string{fmt.Sprintf("HOME=%s", rt.Outdir), fmt.Sprintf("TMPDIR=%s", rt.Tmpdir)}
	if envReq := tool.Requirement(ReqEnvVar); envReq != nil {
		for _, e := range envReq.EnvDef {
			envParts = append(envParts, fmt.Sprintf("%s=%s", e.EnvName, e.EnvValue))
		}
	}

	wrapped := "cd ~ && " + innerCmd
	return fmt.Sprintf("env %s %s -c %s", strings.Join(envParts, " "), shell, shellSingleQuote(wrapped)), nil
}

func effectiveIDs() (string, string) {
	u, err := user.Current()
	if err != nil {
		return "0", "0"
	}
	return u.Uid, u.Gid
}

// MaterializeExpressionTool renders the `echo '<json>' > cwl.output.json`
// line spec §6 describes for ExpressionTool's `commandline` command
// (SUPPLEMENTED FEATURES §5).
func MaterializeExpressionTool(tool *ExpressionTool, coerced map[string]interface{}, lib []string, jsEnabled bool, rt *RuntimeRecord, evaluator *Evaluator) (string, error) {
	env := Env{Inputs: PlainInputs(coerced), Runtime: rt.ToMap(), ExpressionLib: lib, JSEnabled: jsEnabled}
	result, err := evaluator.EvaluateString(tool.Expression, env, nil)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "", NewInspectionError("could not serialize ExpressionTool result", err)
	}
	return fmt.Sprintf("echo %s > cwl.output.json", shellSingleQuote(string(payload))), nil
}
