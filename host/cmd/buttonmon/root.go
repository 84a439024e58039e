package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gobutton/host/config"
	"gobutton/host/logging"
	"gobutton/protocol"
)

// Set with -ldflags at release time
var (
	version = "dev"
	commit  = "none"
)

type globalOptions struct {
	verbosity  int
	configPath string
	sets       []string

	cfg *config.Config
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "buttonmon",
		Short: "Watch button presses from firmware or local GPIO",
		Long: `buttonmon registers a set of buttons and reports every press and release.

In serial mode the buttons are polled by the button firmware and events
arrive over the Klipper protocol. In local mode the pins are read directly
through the Linux GPIO drivers.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/buttonmon/config.toml)")
	flags.StringArrayVar(&opts.sets, "set", nil, "Override a config value, e.g. --set poll.interval=10ms")

	rootCmd.AddCommand(
		newSerialCmd(opts),
		newLocalCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads the configuration and sets up logging at the higher of the
// flag and config verbosity
func (o *globalOptions) load(cmd *cobra.Command) error {
	overrides, err := parseSets(o.sets)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Options{Path: o.configPath, Overrides: overrides})
	if err != nil {
		return err
	}
	o.cfg = cfg

	verbosity := o.verbosity
	if cfg.Log.Verbosity > verbosity {
		verbosity = cfg.Log.Verbosity
	}
	logging.SetupLogger(verbosity)
	log.Debug().Str("command", cmd.Name()).Str("config", cfg.Source).Msg("Command started")
	return nil
}

// parseSets turns repeated key=value flags into koanf overrides
func parseSets(sets []string) (map[string]interface{}, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", s)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "buttonmon version %s\n", version)
			fmt.Fprintf(out, "  commit:   %s\n", commit)
			fmt.Fprintf(out, "  protocol: %s\n", protocol.Version)
		},
	}
}
