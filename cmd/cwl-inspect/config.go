package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runtimeConfig binds the inspect command's flags through viper, so every
// setting also has a CWL_INSPECT_-prefixed environment variable fallback
// the way the teacher's internal/config.Load binds CWE_-prefixed vars.
type runtimeConfig struct {
	Outdir            string `mapstructure:"outdir"`
	Tmpdir            string `mapstructure:"tmpdir"`
	JobFile           string `mapstructure:"job_file"`
	JSON              bool   `mapstructure:"json"`
	YAML              bool   `mapstructure:"yaml"`
	WithoutPreprocess bool   `mapstructure:"without_preprocess"`
}

func loadRuntimeConfig(cmd *cobra.Command) (*runtimeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("CWL_INSPECT")
	v.AutomaticEnv()

	v.SetDefault("outdir", mustGetwd())
	v.SetDefault("tmpdir", os.TempDir())

	if err := v.BindPFlag("outdir", cmd.Flags().Lookup("outdir")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("tmpdir", cmd.Flags().Lookup("tmpdir")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("job_file", cmd.Flags().Lookup("input")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("json", cmd.Flags().Lookup("json")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("yaml", cmd.Flags().Lookup("yaml")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("without_preprocess", cmd.Flags().Lookup("without-preprocess")); err != nil {
		return nil, err
	}

	cfg := &runtimeConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
