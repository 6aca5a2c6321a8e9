package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("workers", 0, "")
	fs.String("ruleset", "", "")
	return fs
}

func TestLoadWithoutConfigFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	d, err := Load(emptyFlagSet())
	require.NoError(t, err)
	assert.Equal(t, 0, d.Workers)
	assert.Equal(t, "http://127.0.0.1:8000", d.AnalyzerEndpoint)
}

func TestLoadReadsProjectLocalConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	contents := "workers: 8\nruleset: /rules/default.xml\naux_jars:\n  - a.jar\n  - b.jar\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pmdminer.yaml"), []byte(contents), 0o644))

	d, err := Load(emptyFlagSet())
	require.NoError(t, err)
	assert.Equal(t, 8, d.Workers)
	assert.Equal(t, "/rules/default.xml", d.RulesetPath)
	assert.Equal(t, []string{"a.jar", "b.jar"}, d.AuxJars)
}
