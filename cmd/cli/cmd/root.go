package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var errMissingToken = errors.New("API token not found. Please set it using the --token flag or the DOCFLOW_TOKEN environment variable")

var rootCmd = &cobra.Command{
	Use:   "docctl",
	Short: "docctl is a command line tool for the docflow document lifecycle service",
	Long: `docctl is the command-line interface for docflow, the document lifecycle service.

docflow tracks expiring documents and escalates their alerts, runs approval
workflows, guards documents with edit locks and schedules maintenance tasks.

Common workflows:

  List documents expiring in the next two weeks:
    docctl expiring --days 14

  Take and hand back the edit lock of a document:
    docctl lock acquire <document-id>
    docctl lock release <document-id>

  Run a two-step approval:
    docctl workflow create <document-id> --step role:MANAGER --step department:legal
    docctl workflow start <document-id>
    docctl workflow approve <document-id>

  Run a maintenance task now (ADMIN only):
    docctl tasks run lock-cleanup

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    DOCFLOW_URL      API endpoint (default: http://localhost:8080)
    DOCFLOW_TOKEN    User API key for authentication`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".docctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".docctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "DOCFLOW_VARNAME"
	viper.SetEnvPrefix("DOCFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds an API client from the resolved url and token.
func newClient() (*Client, error) {
	token := viper.GetString("token")
	if token == "" {
		return nil, errMissingToken
	}
	return NewClient(viper.GetString("url"), token), nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.docctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "docflow controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
