package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wilke-lab/cwl-inspect/internal/cwl"
	"github.com/wilke-lab/cwl-inspect/internal/cwl/sandbox"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [flags] CWL CMD",
		Short: "Inspect a CWL document",
		Long: `Parses CWL (a file path or '-' for stdin) and answers a single query:
  .<path>        dump the node at the given path
  keys(.<path>)  list keys at the given path
  commandline    materialize the shell command line the tool would run
  list           list the predicted output files/values`,
		Args: cobra.ExactArgs(2),
		RunE: runInspect,
	}

	cmd.Flags().Bool("json", false, "emit JSON output (default)")
	cmd.Flags().Bool("yaml", false, "emit YAML output")
	cmd.Flags().StringP("input", "i", "", "job parameter file (YAML or JSON)")
	cmd.Flags().String("outdir", "", "output directory for the materialized runtime record")
	cmd.Flags().String("tmpdir", "", "temporary directory for the materialized runtime record")
	cmd.Flags().Bool("without-preprocess", false, "skip $import/$include expansion")

	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	cwlPath, query := args[0], args[1]

	cfg, err := loadRuntimeConfig(cmd)
	if err != nil {
		return err
	}

	doc, docDir, err := loadDocument(cwlPath, cfg.WithoutPreprocess)
	if err != nil {
		return err
	}
	base := doc.Base()
	if base == nil {
		return cwl.NewParseError("document has no recognized process class", nil)
	}

	switch {
	case strings.HasPrefix(query, "."):
		val, err := cwl.Walk(doc, query)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), val, cfg)

	case strings.HasPrefix(query, "keys(") && strings.HasSuffix(query, ")"):
		path := strings.TrimSuffix(strings.TrimPrefix(query, "keys("), ")")
		keys, err := cwl.Keys(doc, path)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), keys, cfg)

	case query == "commandline":
		return runCommandline(cmd, doc, base, docDir, cfg)

	case query == "list":
		return runList(cmd, doc, base, docDir, cfg)

	default:
		return fmt.Errorf("unrecognized query %q", query)
	}
}

func loadDocument(cwlPath string, withoutPreprocess bool) (*cwl.Document, string, error) {
	loader := cwl.NewLoader()
	loader.SkipPreprocess = withoutPreprocess

	if cwlPath == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", cwl.NewParseError("cannot read stdin", err)
		}
		doc, err := loader.LoadBytes(data)
		if err != nil {
			return nil, "", err
		}
		return doc, mustGetwd(), nil
	}

	doc, err := loader.LoadFile(cwlPath)
	if err != nil {
		return nil, "", err
	}
	return doc, filepath.Dir(cwlPath), nil
}

func loadJob(jobFile, docDir string) (map[string]interface{}, error) {
	if jobFile == "" {
		return map[string]interface{}{}, nil
	}
	data, err := os.ReadFile(jobFile)
	if err != nil {
		return nil, cwl.NewParseError(fmt.Sprintf("cannot read job file %s", jobFile), err)
	}
	var job map[string]interface{}
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, cwl.NewParseError(fmt.Sprintf("malformed job file %s", jobFile), err)
	}
	return job, nil
}

func buildEvaluator() *cwl.Evaluator {
	eval := sandbox.NewInProcessEvaluator()
	return cwl.NewEvaluator(cwl.NewSandboxHost(eval))
}

func dockerAvailable() bool {
	_, err := exec.LookPath("docker")
	return err == nil
}

func runCommandline(cmd *cobra.Command, doc *cwl.Document, base *cwl.ProcessBase, docDir string, cfg *runtimeConfig) error {
	job, err := loadJob(cfg.JobFile, docDir)
	if err != nil {
		return err
	}
	coerced, err := cwl.BuildInputsEnv(base.Inputs, job, docDir)
	if err != nil {
		return err
	}

	evaluator := buildEvaluator()
	lib := base.ExpressionLib()
	jsEnabled := base.InlineJavascriptEnabled()
	docdir := cwl.DocDirSearchPath(docDir)

	env := cwl.Env{Inputs: cwl.PlainInputs(coerced), ExpressionLib: lib, JSEnabled: jsEnabled}
	rt, err := cwl.DeriveRuntime(base, env, evaluator, cfg.Outdir, cfg.Tmpdir, docdir)
	if err != nil {
		return err
	}

	switch {
	case doc.Tool != nil:
		line, err := cwl.Materialize(doc.Tool, coerced, lib, jsEnabled, rt, evaluator, dockerAvailable())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil

	case doc.ExprTool != nil:
		line, err := cwl.MaterializeExpressionTool(doc.ExprTool, coerced, lib, jsEnabled, rt, evaluator)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil

	default:
		return cwl.NewInspectionError("commandline is not supported for a Workflow", nil)
	}
}

func runList(cmd *cobra.Command, doc *cwl.Document, base *cwl.ProcessBase, docDir string, cfg *runtimeConfig) error {
	job, err := loadJob(cfg.JobFile, docDir)
	if err != nil {
		return err
	}
	coerced, err := cwl.BuildInputsEnv(base.Inputs, job, docDir)
	if err != nil {
		return err
	}

	evaluator := buildEvaluator()
	lib := base.ExpressionLib()
	jsEnabled := base.InlineJavascriptEnabled()
	rt := &cwl.RuntimeRecord{Outdir: cfg.Outdir, Tmpdir: cfg.Tmpdir, Docdir: cwl.DocDirSearchPath(docDir)}

	outputs, err := cwl.ListOutputs(base, doc.ExprTool != nil, coerced, lib, jsEnabled, rt, evaluator)
	if err != nil {
		return err
	}
	return emit(cmd.OutOrStdout(), outputs, cfg)
}

func emit(w io.Writer, val interface{}, cfg *runtimeConfig) error {
	if cfg.YAML {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(val)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
