package cwl

import (
	"fmt"
	"strings"
)

// Uninstantiated marks a parameter the job document never supplied a
// value for. Expressions that read an Uninstantiated value must not call
// out to the JS host; they short-circuit to a readable placeholder
// (spec §4.4).
var Uninstantiated = &uninstantiatedSentinel{}

type uninstantiatedSentinel struct{}

func (u *uninstantiatedSentinel) String() string { return "Uninstantiated" }

// Invalid marks a value keyed by an id the process never declared. It
// passes through coercion but raises InspectionError on any evaluation
// read (spec §4.5).
var Invalid = &invalidSentinel{}

type invalidSentinel struct{}

func (i *invalidSentinel) String() string { return "Invalid" }

// Env is the evaluation context threaded through expression evaluation:
// the coerced job inputs (by id, possibly Uninstantiated or Invalid), the
// runtime record, and expressionLib snippets in effect.
type Env struct {
	Inputs        map[string]interface{}
	Runtime       map[string]interface{}
	ExpressionLib []string
	JSEnabled     bool
}

// Evaluator evaluates CWL parameter references and, where enabled,
// embedded JavaScript, via a pluggable JS host (the sandbox package).
type Evaluator struct {
	js JSHost
}

// JSHost runs an ECMAScript expression or function body against a JSON
// context and returns the exported result. Implemented by
// internal/cwl/sandbox.
type JSHost interface {
	Eval(code string, isFunctionBody bool, lib []string, context map[string]interface{}) (interface{}, error)
}

// NewEvaluator builds an Evaluator backed by the given JS host.
func NewEvaluator(js JSHost) *Evaluator {
	return &Evaluator{js: js}
}

// EvaluateString resolves every `$(...)`/`${...}` segment in s against
// env and self, per the segmentation grammar in spec §4.4. If s consists
// of exactly one reference with no surrounding text, the reference's
// native type is returned; otherwise all matches are stringified and
// concatenated with the surrounding text.
func (e *Evaluator) EvaluateString(s string, env Env, self interface{}) (interface{}, error) {
	segs, err := segment(s)
	if err != nil {
		return nil, NewInspectionError("malformed expression", err)
	}
	if len(segs) == 1 && segs[0].isExpr {
		return e.evalSegment(segs[0], env, self)
	}

	var b strings.Builder
	for _, seg := range segs {
		if !seg.isExpr {
			b.WriteString(seg.text)
			continue
		}
		val, err := e.evalSegment(seg, env, self)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
	}
	return b.String(), nil
}

func (e *Evaluator) evalSegment(seg segment_, env Env, self interface{}) (interface{}, error) {
	if containsUninstantiated(env) {
		return fmt.Sprintf("evaled(%s)", seg.raw), nil
	}
	if seg.isFunctionBody {
		if !env.JSEnabled {
			return nil, NewInspectionError("InlineJavascriptRequirement not declared for function-body expression", nil)
		}
		return e.runJS(seg.text, true, env, self)
	}
	if looksLikeParameterReference(seg.text) {
		val, ok, err := evalParameterReference(seg.text, env, self)
		if err != nil {
			return nil, err
		}
		if ok {
			return val, nil
		}
	}
	if !env.JSEnabled {
		return nil, NewInspectionError(fmt.Sprintf("cannot evaluate %q: InlineJavascriptRequirement not declared", seg.raw), nil)
	}
	return e.runJS(seg.text, false, env, self)
}

func (e *Evaluator) runJS(code string, isFunctionBody bool, env Env, self interface{}) (interface{}, error) {
	if e.js == nil {
		return nil, NewInspectionError("no JavaScript host configured", nil)
	}
	context := map[string]interface{}{
		"inputs":  env.Inputs,
		"self":    self,
		"runtime": withoutDocdir(env.Runtime),
	}
	val, err := e.js.Eval(code, isFunctionBody, env.ExpressionLib, context)
	if err != nil {
		return nil, NewInspectionError(fmt.Sprintf("expression %q raised", code), err)
	}
	return val, nil
}

func withoutDocdir(runtime map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(runtime))
	for k, v := range runtime {
		if k == "docdir" {
			continue
		}
		out[k] = v
	}
	return out
}

func containsUninstantiated(env Env) bool {
	for _, v := range env.Inputs {
		if v == Uninstantiated {
			return true
		}
	}
	return false
}

// EvaluateCondition evaluates a step's `when:` expression and coerces the
// result to a bool per CWL truthiness.
func (e *Evaluator) EvaluateCondition(expr string, env Env) (bool, error) {
	val, err := e.EvaluateString(expr, env, nil)
	if err != nil {
		return false, err
	}
	return truthy(val), nil
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// segment_ is one piece of a segmented expression string: either literal
// text or an expression reference (parameter reference or JS).
type segment_ struct {
	isExpr         bool
	isFunctionBody bool
	text           string // the code inside $(...) or ${...}
	raw            string // the full "$(...)"/"${...}" including delimiters
}

// segment splits s into literal-text and expression segments, honoring
// nested {}/() and string literals within an expression body, and
// breaking ties between a `$(` and `${` match at the same or overlapping
// position by whichever opening delimiter occurs earliest (spec §4.4).
func segment(s string) ([]segment_, error) {
	var out []segment_
	i := 0
	for i < len(s) {
		parenAt := strings.Index(s[i:], "$(")
		braceAt := strings.Index(s[i:], "${")
		if parenAt < 0 && braceAt < 0 {
			out = append(out, segment_{text: s[i:]})
			break
		}

		var start int
		var isFunctionBody bool
		switch {
		case parenAt < 0:
			start, isFunctionBody = braceAt, true
		case braceAt < 0:
			start, isFunctionBody = parenAt, false
		case parenAt <= braceAt:
			start, isFunctionBody = parenAt, false
		default:
			start, isFunctionBody = braceAt, true
		}
		start += i

		if start > i {
			out = append(out, segment_{text: s[i:start]})
		}

		open, close := byte('('), byte(')')
		if isFunctionBody {
			open, close = '{', '}'
		}
		end, err := matchDelimiter(s, start+2, open, close)
		if err != nil {
			return nil, err
		}
		out = append(out, segment_{
			isExpr:         true,
			isFunctionBody: isFunctionBody,
			text:           s[start+2 : end],
			raw:            s[start : end+1],
		})
		i = end + 1
	}
	if len(out) == 0 {
		out = append(out, segment_{text: ""})
	}
	return out, nil
}

// matchDelimiter scans forward from pos (just past the opening two-char
// delimiter) for the matching close, honoring nested open/close pairs and
// skipping over single- and double-quoted string literals.
func matchDelimiter(s string, pos int, open, close byte) (int, error) {
	depth := 1
	i := pos
	for i < len(s) {
		c := s[i]
		switch c {
		case '\'', '"':
			end, err := skipStringLiteral(s, i)
			if err != nil {
				return 0, err
			}
			i = end
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
		i++
	}
	return 0, NewInspectionError("unterminated expression", nil)
}

func skipStringLiteral(s string, start int) (int, error) {
	quote := s[start]
	i := start + 1
	for i < len(s) {
		if s[i] == '\\' {
			i += 2
			continue
		}
		if s[i] == quote {
			return i + 1, nil
		}
		i++
	}
	return 0, NewInspectionError("unterminated string literal in expression", nil)
}

// looksLikeParameterReference reports whether code is a pure parameter
// reference (spec §4.4 grammar), as opposed to an arbitrary JS
// expression that merely starts with one of the same identifiers.
func looksLikeParameterReference(code string) bool {
	code = strings.TrimSpace(code)
	for _, prefix := range []string{"inputs.", "self", "runtime."} {
		if strings.HasPrefix(code, prefix) {
			return isPathExpression(code)
		}
	}
	return false
}

// isPathExpression reports whether code is composed solely of identifier
// segments, `.field` accesses, and `[idx]` indices.
func isPathExpression(code string) bool {
	i := 0
	for i < len(code) {
		c := code[i]
		switch {
		case c == '.' || c == '_' || isAlnum(c):
			i++
		case c == '[':
			j := strings.IndexByte(code[i:], ']')
			if j < 0 {
				return false
			}
			i += j + 1
		default:
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// evalParameterReference resolves `inputs.<id>...`, `self...`, or
// `runtime.<attr>` against env/self without invoking the JS host. Reading
// an id the process never declared (the Invalid sentinel, spec §4.5)
// raises an error rather than returning the sentinel as a value.
func evalParameterReference(ref string, env Env, self interface{}) (interface{}, bool, error) {
	ref = strings.TrimSpace(ref)
	head, rest := splitHead(ref)

	var cur interface{}
	switch {
	case head == "self":
		cur = self
	case head == "inputs":
		id, remainder := splitHead(strings.TrimPrefix(rest, "."))
		v, ok := env.Inputs[id]
		if !ok {
			return nil, false, nil
		}
		if v == Invalid {
			return nil, false, NewInspectionError(fmt.Sprintf("inputs.%s: no such input was declared by this process", id), nil)
		}
		cur = v
		rest = remainder
	case head == "runtime":
		attr := strings.TrimPrefix(rest, ".")
		v, ok := env.Runtime[attr]
		return v, ok, nil
	default:
		return nil, false, nil
	}

	for rest != "" {
		var seg string
		seg, rest = nextAccessor(rest)
		if seg == "" {
			break
		}
		next, ok := accessField(cur, seg)
		if !ok {
			return nil, false, nil
		}
		if next == Invalid {
			return nil, false, NewInspectionError(fmt.Sprintf("inputs%s: no such input was declared by this process", seg), nil)
		}
		cur = next
	}
	return cur, true, nil
}

func splitHead(s string) (head, rest string) {
	i := 0
	for i < len(s) && (isAlnum(s[i]) || s[i] == '_') {
		i++
	}
	return s[:i], s[i:]
}

func nextAccessor(s string) (seg, rest string) {
	if strings.HasPrefix(s, ".") {
		s = s[1:]
		i := 0
		for i < len(s) && (isAlnum(s[i]) || s[i] == '_') {
			i++
		}
		return s[:i], s[i:]
	}
	if strings.HasPrefix(s, "[") {
		j := strings.IndexByte(s, ']')
		if j < 0 {
			return "", ""
		}
		return s[1:j], s[j+1:]
	}
	return "", ""
}

func accessField(cur interface{}, seg string) (interface{}, bool) {
	switch m := cur.(type) {
	case map[string]interface{}:
		v, ok := m[seg]
		return v, ok
	case []interface{}:
		var idx int
		if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil {
			return nil, false
		}
		if idx < 0 || idx >= len(m) {
			return nil, false
		}
		return m[idx], true
	default:
		return nil, false
	}
}
