package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gobutton/host/config"
	"gobutton/host/logging"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.cfg.TOML()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			out := cmd.OutOrStdout()
			if opts.cfg.Source != "" {
				fmt.Fprintf(out, "# loaded from %s\n", opts.cfg.Source)
			}
			_, err = out.Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config and log file locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := opts.cfg.Source
			if cfgPath == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				cfgPath = p + " (not present)"
			}
			logPath, err := logging.LogFilePath()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", cfgPath)
			fmt.Fprintf(out, "log:    %s\n", logPath)
			return nil
		},
	})

	return cmd
}
