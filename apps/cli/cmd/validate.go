package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapworks/tapestry/packages/core/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate a tapestry config file",
	Long: `Validate a config file against the configuration schema. Without an
argument the config discovered from the working directory is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			path = config.Find(".")
			if path == "" {
				return fmt.Errorf("no config file found (looked for %v)", config.ConfigFilenames)
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := config.Validate(data); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(ExitConfigError)
		}
		fmt.Printf("%s is valid\n", path)
		return nil
	},
}
