package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gobutton/host/config"
	"gobutton/host/logging"
	"gobutton/host/mcu"
	"gobutton/host/serial"
)

const stopTimeout = time.Second

func newSerialCmd(opts *globalOptions) *cobra.Command {
	var device string
	var baud int

	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Configure buttons on the firmware and stream their events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			portCfg := &serial.Config{
				Device:      cfg.Serial.Device,
				Baud:        cfg.Serial.Baud,
				ReadTimeout: cfg.Serial.ReadTimeout,
			}
			if cmd.Flags().Changed("device") {
				portCfg.Device = device
			}
			if cmd.Flags().Changed("baud") {
				portCfg.Baud = baud
			}

			logger := logging.GetLogger("mcu")
			m, err := mcu.Open(portCfg, mcu.WithLogger(logger))
			if err != nil {
				return err
			}
			defer m.Close()
			logger.Info().Str("device", portCfg.Device).Msg("Connected")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return streamFirmware(ctx, m, cfg, newEventPrinter(cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVarP(&device, "device", "d", "", "Serial device (overrides serial.device)")
	cmd.Flags().IntVarP(&baud, "baud", "b", 0, "Baud rate (overrides serial.baud)")
	return cmd
}

// streamFirmware sets up the session and prints events until ctx ends or
// the link drops
func streamFirmware(ctx context.Context, m *mcu.MCU, cfg *config.Config, printer *eventPrinter) error {
	logger := logging.GetLogger("serial")
	done := logging.LogOperationStart(logger, "firmware setup")

	if err := m.RetrieveDictionary(ctx); err != nil {
		return fmt.Errorf("failed to retrieve dictionary: %w", err)
	}
	if len(cfg.Buttons) == 0 {
		return errors.New("no buttons configured")
	}
	if err := m.ResetConfig(ctx); err != nil {
		return fmt.Errorf("failed to reset firmware config: %w", err)
	}
	for _, b := range cfg.Buttons {
		if err := m.ConfigureButton(ctx, b.Pin, b.PullUp); err != nil {
			return fmt.Errorf("failed to configure %s: %w", b.Name, err)
		}
		logger.Info().Str("name", b.Name).Uint8("pin", b.Pin).Bool("pullUp", b.PullUp).Msg("Button configured")
	}
	if err := m.StartPollingEvery(ctx, cfg.Poll.Interval); err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}
	done()

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := m.StopPolling(stopCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop polling")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.Done():
			return errors.New("connection to firmware lost")
		case ev := <-m.Events():
			printer.print(time.Now(), cfg.ButtonName(ev.Pin), ev.Pin, ev.Pressed, fmt.Sprintf("clock=%d", ev.Clock))
		}
	}
}
