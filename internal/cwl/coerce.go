package cwl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Value is a coerced job value paired with the type it was coerced
// against — for a Union this is the alternative that succeeded, which
// downstream rendering needs to know which branch was taken (spec §4.5).
type Value struct {
	Type *Type
	V    interface{} // nil, bool, int64, float64, string, *File, *Directory,
	                 // []*Value (array), map[string]*Value (record fields)
}

// BuildInputsEnv coerces every job-supplied value against its declared
// parameter type, falling back to declared defaults, and marks
// undeclared-but-supplied ids as Invalid and declared-but-unsupplied
// required ids as Uninstantiated (spec §4.5).
func BuildInputsEnv(params []Parameter, job map[string]interface{}, docDir string) (map[string]interface{}, error) {
	env := map[string]interface{}{}
	declared := map[string]bool{}

	for _, p := range params {
		declared[p.ID] = true
		raw, supplied := job[p.ID]

		if !supplied {
			if p.HasDefault {
				v, err := Coerce(p.Type, p.Default, docDir)
				if err != nil {
					return nil, NewInspectionError(fmt.Sprintf("input %s: invalid default", p.ID), err).WithPath(p.ID)
				}
				env[p.ID] = v
				continue
			}
			if p.Type.IsOptional() {
				env[p.ID] = &Value{Type: &Type{Kind: KindNull}}
				continue
			}
			env[p.ID] = Uninstantiated
			continue
		}

		v, err := Coerce(p.Type, raw, docDir)
		if err != nil {
			return nil, NewInspectionError(fmt.Sprintf("input %s", p.ID), err).WithPath(p.ID)
		}
		env[p.ID] = v
	}

	for id := range job {
		if !declared[id] {
			env[id] = Invalid
		}
	}

	return env, nil
}

// Coerce produces a typed Value from a raw job value against a declared
// type, resolving File/Directory derived fields against docDir
// (spec §4.5).
func Coerce(t *Type, raw interface{}, docDir string) (*Value, error) {
	if t.Kind == KindAny {
		inferred, err := inferAnyType(raw)
		if err != nil {
			return nil, err
		}
		return Coerce(inferred, raw, docDir)
	}

	if raw == nil {
		if t.IsOptional() {
			return &Value{Type: &Type{Kind: KindNull}}, nil
		}
		return nil, NewInspectionError(fmt.Sprintf("null is not assignable to %s", t.String()), nil)
	}

	switch t.Kind {
	case KindUnion:
		var lastErr error
		for _, alt := range t.Alts {
			v, err := Coerce(alt, raw, docDir)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		return nil, NewInspectionError(fmt.Sprintf("value matches no alternative of %s", t.String()), lastErr)

	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("expected boolean, got %T", raw), nil)
		}
		return &Value{Type: t, V: b}, nil

	case KindInt, KindLong:
		n, err := toIntegral(raw)
		if err != nil {
			return nil, err
		}
		return &Value{Type: t, V: n}, nil

	case KindFloat, KindDouble:
		n, ok := toFloat(raw)
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("expected number, got %T", raw), nil)
		}
		return &Value{Type: t, V: n}, nil

	case KindString, KindStdout, KindStderr:
		s, ok := raw.(string)
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("expected string, got %T", raw), nil)
		}
		return &Value{Type: t, V: s}, nil

	case KindFile:
		f, err := coerceFile(raw, docDir)
		if err != nil {
			return nil, err
		}
		return &Value{Type: t, V: f}, nil

	case KindDirectory:
		d, err := coerceDirectory(raw, docDir)
		if err != nil {
			return nil, err
		}
		return &Value{Type: t, V: d}, nil

	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("expected enum symbol, got %T", raw), nil)
		}
		for _, sym := range t.Symbols {
			if sym == s {
				return &Value{Type: t, V: s}, nil
			}
		}
		return nil, NewInspectionError(fmt.Sprintf("%q is not a symbol of enum %s", s, t.String()), nil)

	case KindArray:
		list, ok := raw.([]interface{})
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("expected array, got %T", raw), nil)
		}
		items := make([]*Value, 0, len(list))
		for i, item := range list {
			v, err := Coerce(t.Items, item, docDir)
			if err != nil {
				return nil, NewInspectionError(fmt.Sprintf("array element %d", i), err)
			}
			items = append(items, v)
		}
		return &Value{Type: t, V: items}, nil

	case KindRecord:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, NewInspectionError(fmt.Sprintf("expected record, got %T", raw), nil)
		}
		fields := map[string]*Value{}
		for _, f := range t.Fields {
			fv, supplied := m[f.Name]
			if !supplied {
				if f.Type.IsOptional() {
					fields[f.Name] = &Value{Type: &Type{Kind: KindNull}}
					continue
				}
				return nil, NewInspectionError(fmt.Sprintf("record missing required field %s", f.Name), nil)
			}
			v, err := Coerce(f.Type, fv, docDir)
			if err != nil {
				return nil, NewInspectionError(fmt.Sprintf("record field %s", f.Name), err)
			}
			fields[f.Name] = v
		}
		return &Value{Type: t, V: fields}, nil

	default:
		return nil, NewInspectionError(fmt.Sprintf("cannot coerce value against type %s", t.String()), nil)
	}
}

func toIntegral(raw interface{}) (int64, error) {
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, NewInspectionError(fmt.Sprintf("%v is not an integer", n), nil)
		}
		return int64(n), nil
	default:
		return 0, NewInspectionError(fmt.Sprintf("expected integer, got %T", raw), nil)
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// inferAnyType implements the Any-type inference table from spec §4.5.
func inferAnyType(raw interface{}) (*Type, error) {
	switch v := raw.(type) {
	case nil:
		return &Type{Kind: KindNull}, nil
	case bool:
		return &Type{Kind: KindBoolean}, nil
	case int, int64:
		return &Type{Kind: KindInt}, nil
	case float64:
		if v == float64(int64(v)) {
			return &Type{Kind: KindInt}, nil
		}
		return &Type{Kind: KindFloat}, nil
	case string:
		return &Type{Kind: KindString}, nil
	case map[string]interface{}:
		switch v["class"] {
		case "File":
			return &Type{Kind: KindFile}, nil
		case "Directory":
			return &Type{Kind: KindDirectory}, nil
		default:
			return nil, NewInspectionError("cannot infer Any type for mapping without class File/Directory", nil)
		}
	case []interface{}:
		if len(v) == 0 {
			return &Type{Kind: KindArray, Items: &Type{Kind: KindAny}}, nil
		}
		itemType, err := inferAnyType(v[0])
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindArray, Items: itemType}, nil
	default:
		return nil, NewInspectionError(fmt.Sprintf("cannot infer Any type for %T", raw), nil)
	}
}

func coerceFile(raw interface{}, docDir string) (*File, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, NewInspectionError(fmt.Sprintf("expected File mapping, got %T", raw), nil)
	}
	if class, _ := m["class"].(string); class != "" && class != "File" {
		return nil, NewInspectionError(fmt.Sprintf("expected class File, got %s", class), nil)
	}

	f := &File{Class: "File"}
	f.Location, _ = m["location"].(string)
	f.Path, _ = m["path"].(string)
	if f.Path == "" && f.Location != "" {
		f.Path = resolveLocation(f.Location, docDir)
	} else if f.Path != "" && !filepath.IsAbs(f.Path) {
		f.Path = filepath.Join(docDir, f.Path)
	}
	if f.Path == "" && f.Location == "" {
		if contents, ok := m["contents"].(string); ok {
			f.Contents = contents
		} else {
			return nil, NewInspectionError("File value has neither location, path, nor contents", nil)
		}
	}

	f.Basename, _ = m["basename"].(string)
	if f.Basename == "" && f.Path != "" {
		f.Basename = filepath.Base(f.Path)
	}
	deriveFileNameFields(f)

	f.Format, _ = m["format"].(string)
	if sz, ok := m["size"]; ok {
		if n, err := toIntegral(sz); err == nil {
			f.Size, f.HasSize = n, true
		}
	} else if f.Path != "" {
		if info, err := os.Stat(f.Path); err == nil {
			f.Size, f.HasSize = info.Size(), true
		}
	}

	if lc, _ := m["loadContents"].(bool); lc && f.Contents == "" && f.Path != "" {
		contents, err := readUpTo(f.Path, 64*1024)
		if err != nil {
			return nil, NewInspectionError(fmt.Sprintf("loadContents failed for %s", f.Path), err)
		}
		f.Contents = contents
	}

	return f, nil
}

func coerceDirectory(raw interface{}, docDir string) (*Directory, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, NewInspectionError(fmt.Sprintf("expected Directory mapping, got %T", raw), nil)
	}
	if class, _ := m["class"].(string); class != "" && class != "Directory" {
		return nil, NewInspectionError(fmt.Sprintf("expected class Directory, got %s", class), nil)
	}

	d := &Directory{Class: "Directory"}
	d.Location, _ = m["location"].(string)
	d.Path, _ = m["path"].(string)
	if d.Path == "" && d.Location != "" {
		d.Path = resolveLocation(d.Location, docDir)
	} else if d.Path != "" && !filepath.IsAbs(d.Path) {
		d.Path = filepath.Join(docDir, d.Path)
	}
	d.Basename, _ = m["basename"].(string)
	if d.Basename == "" && d.Path != "" {
		d.Basename = filepath.Base(d.Path)
	}

	if listing, ok := m["listing"].([]interface{}); ok {
		for _, item := range listing {
			lm, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch lm["class"] {
			case "Directory":
				sub, err := coerceDirectory(lm, docDir)
				if err != nil {
					return nil, err
				}
				d.Listing = append(d.Listing, sub)
			default:
				sub, err := coerceFile(lm, docDir)
				if err != nil {
					return nil, err
				}
				d.Listing = append(d.Listing, sub)
			}
		}
	}

	return d, nil
}

func resolveLocation(location, docDir string) string {
	if strings.HasPrefix(location, "file://") {
		location = strings.TrimPrefix(location, "file://")
	}
	if filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(docDir, location)
}

// deriveFileNameFields fills basename/dirname/nameroot/nameext from path,
// keeping them consistent per spec §3 invariant 3.
func deriveFileNameFields(f *File) {
	if f.Path == "" {
		return
	}
	f.Dirname = filepath.Dir(f.Path)
	base := f.Basename
	if base == "" {
		base = filepath.Base(f.Path)
		f.Basename = base
	}
	ext := filepath.Ext(base)
	f.Nameext = ext
	f.Nameroot = strings.TrimSuffix(base, ext)
}

func readUpTo(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExportValue flattens a coerced Value back into the plain
// maps/slices/primitives the expression engine and JS host expect as
// their `inputs`/`self` context (spec §4.4's evaluation context).
func ExportValue(v *Value) interface{} {
	if v == nil {
		return nil
	}
	switch inner := v.V.(type) {
	case nil:
		return nil
	case *File:
		return map[string]interface{}{
			"class": "File", "path": inner.Path, "location": inner.Location,
			"basename": inner.Basename, "dirname": inner.Dirname,
			"nameroot": inner.Nameroot, "nameext": inner.Nameext,
			"size": inner.Size, "checksum": inner.Checksum,
			"contents": inner.Contents, "format": inner.Format,
		}
	case *Directory:
		listing := make([]interface{}, 0, len(inner.Listing))
		for _, l := range inner.Listing {
			listing = append(listing, ExportValue(&Value{V: l}))
		}
		return map[string]interface{}{
			"class": "Directory", "path": inner.Path, "location": inner.Location,
			"basename": inner.Basename, "listing": listing,
		}
	case []*Value:
		out := make([]interface{}, len(inner))
		for i, e := range inner {
			out[i] = ExportValue(e)
		}
		return out
	case map[string]*Value:
		out := map[string]interface{}{}
		for k, e := range inner {
			out[k] = ExportValue(e)
		}
		return out
	default:
		return inner
	}
}

// PlainInputs converts a BuildInputsEnv result (ids mapped to *Value, or
// to the Uninstantiated/Invalid sentinels) into the plain form Env.Inputs
// carries for expression evaluation. Sentinels pass through unchanged so
// the evaluator's short-circuit checks still see them.
func PlainInputs(coerced map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(coerced))
	for k, v := range coerced {
		if val, ok := v.(*Value); ok {
			out[k] = ExportValue(val)
			continue
		}
		out[k] = v
	}
	return out
}

// ResolveSecondaryFiles expands a primary File/Directory's declared
// secondaryFiles patterns against its basename: caret-notation patterns
// strip one extension per leading `^`, otherwise the pattern is appended
// verbatim (spec: SUPPLEMENTED FEATURES §2). Expression-form patterns are
// the caller's responsibility to evaluate before calling this.
func ResolveSecondaryFiles(primaryPath string, specs []SecondaryFileSpec) []string {
	var out []string
	for _, spec := range specs {
		if strings.HasPrefix(spec.Pattern, "$") {
			continue // expression form: evaluated by the caller with self bound
		}
		out = append(out, resolveSecondaryFilePattern(primaryPath, spec.Pattern))
	}
	return out
}

func resolveSecondaryFilePattern(primaryPath, pattern string) string {
	carets := 0
	for carets < len(pattern) && pattern[carets] == '^' {
		carets++
	}
	suffix := pattern[carets:]
	base := primaryPath
	for i := 0; i < carets; i++ {
		ext := filepath.Ext(base)
		if ext == "" {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}
	return base + suffix
}
