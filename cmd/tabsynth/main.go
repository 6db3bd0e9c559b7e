package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tabsynth/tabsynth/cmd/tabsynth/commands"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := newRootCmd()

	// Initialize Viper
	cobra.OnInitialize(initConfig)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tabsynth",
		Short: "Conditional tabular synthetic data CLI",
		Long: `A command-line interface for training conditional tabular GAN models on
CSV data and sampling synthetic rows from fitted models.`,
		Version: "0.1.0",
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tabsynth.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add commands
	rootCmd.AddCommand(commands.NewFitCmd())
	rootCmd.AddCommand(commands.NewGenerateCmd())

	return rootCmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tabsynth")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TABSYNTH")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
