package cwl

import (
	"errors"
	"testing"
)

func TestParseError_Error(t *testing.T) {
	cases := []struct {
		name string
		err  *ParseError
		want string
	}{
		{"bare", NewParseError("unsupported cwlVersion", nil), "parse error: unsupported cwlVersion"},
		{"wrapped", NewParseError("malformed document", errors.New("yaml: line 3")), "parse error: malformed document: yaml: line 3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewParseError("failed", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is did not see wrapped cause")
	}
}

func TestInspectionError_WithPath(t *testing.T) {
	err := NewInspectionError("unresolvable path", nil).WithPath(".inputs.foo")
	want := "inspection error at .inputs.foo: unresolvable path"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInspectionError_NoPath(t *testing.T) {
	err := NewInspectionError("type mismatch", nil)
	want := "inspection error: type mismatch"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
