package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstNonEmptyPicksFirstNonEmptyValue(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "a", firstNonEmpty("a", "b"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestFlagGettersReadBackWhatWasSet(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("ruleset", "", "")
	flags.Int("workers", 0, "")
	flags.Bool("verbose", false, "")
	flags.StringSlice("aux-jars", nil, "")
	flags.Duration("analyzer-ready-timeout", 30*time.Second, "")

	require.NoError(t, flags.Set("ruleset", "/rules.xml"))
	require.NoError(t, flags.Set("workers", "4"))
	require.NoError(t, flags.Set("verbose", "true"))
	require.NoError(t, flags.Set("aux-jars", "a.jar,b.jar"))
	require.NoError(t, flags.Set("analyzer-ready-timeout", "45s"))

	assert.Equal(t, "/rules.xml", getString(flags, "ruleset"))
	assert.Equal(t, 4, getInt(flags, "workers"))
	assert.True(t, getBool(flags, "verbose"))
	assert.Equal(t, []string{"a.jar", "b.jar"}, getStringSlice(flags, "aux-jars"))
	assert.Equal(t, 45*time.Second, getDuration(flags, "analyzer-ready-timeout"))
}
