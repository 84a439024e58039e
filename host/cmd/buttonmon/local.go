package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gobutton/core"
	"gobutton/host/config"
	"gobutton/host/localgpio"
	"gobutton/host/logging"
	"gobutton/host/monitor"
)

func newLocalCmd(opts *globalOptions) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Poll buttons wired to this machine's GPIO header",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := localgpio.Init(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("prefix") {
				prefix = opts.cfg.Local.PinPrefix
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runLocal(ctx, opts.cfg, localgpio.New(prefix), newEventPrinter(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "periph pin name prefix (overrides local.pin_prefix)")
	return cmd
}

// runLocal registers the configured buttons on driver and polls until ctx ends
func runLocal(ctx context.Context, cfg *config.Config, driver core.GPIODriver, printer *eventPrinter) error {
	if len(cfg.Buttons) == 0 {
		return errors.New("no buttons configured")
	}

	reg := core.NewButtonRegistry()
	for _, b := range cfg.Buttons {
		pin := core.GPIOPin(b.Pin)
		configure := driver.ConfigureInputPullDown
		if b.PullUp {
			configure = driver.ConfigureInputPullUp
		}
		if err := configure(pin); err != nil {
			return fmt.Errorf("failed to configure %s: %w", b.Name, err)
		}
		if _, err := reg.Register(pin); err != nil {
			return fmt.Errorf("failed to register %s: %w", b.Name, err)
		}
	}

	m, err := monitor.New(reg, driver, cfg.Poll.Interval,
		monitor.WithLogger(logging.GetLogger("monitor")),
		monitor.WithNames(func(pin core.GPIOPin) string { return cfg.ButtonName(uint8(pin)) }),
		monitor.WithEventHandler(func(ev monitor.Event) {
			printer.print(ev.Time, ev.Name, uint8(ev.Pin), ev.Pressed, "")
		}),
	)
	if err != nil {
		return err
	}

	// Run ends with ctx.Err(); a cancelled or expired context is a normal stop
	if err := m.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
