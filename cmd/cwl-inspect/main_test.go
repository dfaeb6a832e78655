package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const echoTool = `
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

func writeTempTool(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "echo.cwl")
	if err := os.WriteFile(path, []byte(echoTool), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunInspect_WalkPath(t *testing.T) {
	path := writeTempTool(t)
	cmd := newInspectCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path, ".cwlVersion"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "v1.0") {
		t.Errorf("expected cwlVersion in output, got %q", out.String())
	}
}

func TestRunInspect_KeysQuery(t *testing.T) {
	path := writeTempTool(t)
	cmd := newInspectCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path, "keys(.inputs)"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "message") {
		t.Errorf("expected \"message\" in output, got %q", out.String())
	}
}

func TestRunInspect_CommandlineQuery(t *testing.T) {
	path := writeTempTool(t)
	dir := t.TempDir()
	cmd := newInspectCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path, "commandline", "--outdir", dir, "--tmpdir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "echo") {
		t.Errorf("expected echo in materialized command line, got %q", out.String())
	}
}

func TestRunInspect_UnrecognizedQuery(t *testing.T) {
	path := writeTempTool(t)
	cmd := newInspectCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{path, "bogus"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for an unrecognized query")
	}
}
