package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tailtest/tailtest/internal/app"
	"github.com/tailtest/tailtest/internal/config"
)

// envPrefix lets every persistent flag be set as TAILTEST_<FLAG>, e.g.
// TAILTEST_QUIET_MS=1500.
const envPrefix = "TAILTEST"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root, _ := newRootCmdWithSettings()
	return root
}

func newRootCmdWithSettings() (*cobra.Command, *viper.Viper) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:          app.Name,
		Short:        "Host for the cable tail tester fixture",
		Long:         "Connects to the tail tester over USB serial, collects scan output and reports wiring faults.",
		Version:      app.BuildVersionWithDate(),
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("port", "", "serial port to use instead of VID/PID lookup")
	pf.String("vid", "", "USB vendor id, 4 hex digits")
	pf.String("pid", "", "USB product id, 4 hex digits")
	pf.Int("baud", 0, "serial baud rate")
	pf.String("parity", "", "serial parity: none, odd, even, mark, space")
	pf.Int("quiet-ms", 0, "quiet period in milliseconds that ends a scan")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	_ = v.BindPFlags(pf)

	root.AddCommand(
		newRunCmd(v),
		newPortsCmd(v),
		newAnalyzeCmd(),
	)

	return root, v
}

// configOverride applies flags and TAILTEST_* variables on top of the config
// file. Only values the user actually set take effect.
func configOverride(v *viper.Viper) app.ConfigOverride {
	return func(cfg *config.AppConfig) {
		setString := func(key string, dst *string) {
			if v.IsSet(key) {
				*dst = v.GetString(key)
			}
		}
		setInt := func(key string, dst *int) {
			if v.IsSet(key) {
				*dst = v.GetInt(key)
			}
		}

		setString("port", &cfg.Device.SerialPort)
		setString("vid", &cfg.Device.VendorID)
		setString("pid", &cfg.Device.ProductID)
		setInt("baud", &cfg.Device.BaudRate)
		setString("parity", &cfg.Device.Parity)
		setInt("quiet-ms", &cfg.Scan.QuietPeriodMS)
		setString("log-level", &cfg.Logging.Level)
		setString("log-format", &cfg.Logging.Format)
	}
}
