package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"dailydigest/internal/config"
)

func initCmd(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file to --config",
		Long: `Write a starter configuration with placeholder values to the --config
path. The format follows the extension: .yaml/.yml for YAML, anything else
for JSON. An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.Save(path, config.StarterConfig()); err != nil {
				return fmt.Errorf("write starter config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; edit it, then run `digest --dry-run --config %s`\n", path, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
