package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tailtest/tailtest/internal/app"
	"github.com/tailtest/tailtest/internal/logging"
)

func newPortsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Show whether the fixture is attached and which ports it exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := app.LoadConfig(configOverride(v))
			if err != nil {
				return err
			}

			logMgr := logging.NewManager()
			cfg.Logging.LogToFile = false
			if err := logMgr.Configure(cfg.Logging, ""); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			defer func() {
				_ = logMgr.Close()
			}()

			report, err := app.InspectPorts(cmd.Context(), logMgr.Logger("usb"), cfg.Device)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			state := "not attached"
			if report.Present {
				state = "attached"
			}
			fmt.Fprintf(out, "%s: %s\n", app.DeviceLabel(cfg.Device), state)
			if len(report.Candidates) == 0 {
				fmt.Fprintln(out, "no candidate ports")
				return nil
			}
			for i, name := range report.Candidates {
				fmt.Fprintf(out, "%d. %s\n", i+1, name)
			}

			return nil
		},
	}
}
