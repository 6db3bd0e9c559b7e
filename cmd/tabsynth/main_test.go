package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerboseFlagBoundToViper(t *testing.T) {
	viper.Reset()
	rootCmd := newRootCmd()

	assert.False(t, viper.GetBool("verbose"))

	require.NoError(t, rootCmd.PersistentFlags().Parse([]string{"--verbose"}))
	assert.True(t, viper.GetBool("verbose"))
}

func TestRootCmdHasSubcommands(t *testing.T) {
	viper.Reset()
	rootCmd := newRootCmd()

	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["fit"])
	assert.True(t, names["generate"])
}
