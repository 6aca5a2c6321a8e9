// Package config loads the CLI's pinnable defaults from an optional
// project-local .pmdminer.yaml, merged under whatever the user passed on
// the command line.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName = ".pmdminer"
	configType = "yaml"
	envPrefix  = "PMDMINER"
)

// Defaults is the subset of CLI flags a .pmdminer.yaml file may pin:
// workers, ruleset, aux-jars and the Analyzer's launch command and
// endpoint. repo_location, output-dir, verbose and quiet are always
// supplied on the command line.
type Defaults struct {
	Workers          int      `mapstructure:"workers"`
	RulesetPath      string   `mapstructure:"ruleset"`
	AuxJars          []string `mapstructure:"aux_jars"`
	AnalyzerCmd      string   `mapstructure:"analyzer_cmd"`
	AnalyzerEndpoint string   `mapstructure:"analyzer_endpoint"`
}

// Load reads .pmdminer.yaml from the current directory or $HOME (a
// missing file is not an error) and binds it under flags, so that any
// flag the user actually passed on the command line wins.
func Load(flags *pflag.FlagSet) (Defaults, error) {
	v := viper.New()
	v.SetDefault("workers", 0)
	v.SetDefault("analyzer_endpoint", "http://127.0.0.1:8000")

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Defaults{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.BindPFlags(flags); err != nil {
		return Defaults{}, fmt.Errorf("bind flags: %w", err)
	}

	var d Defaults
	if err := v.Unmarshal(&d); err != nil {
		return Defaults{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return d, nil
}
