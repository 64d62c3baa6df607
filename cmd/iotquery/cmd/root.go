// Package cmd holds the iotquery command tree.
package cmd

import (
	"github.com/cyberinferno/iotquery/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "iotquery",
	Short: "Query an IoT telemetry server over TCP",
	Long: `iotquery connects to an IoT telemetry server and asks it one of three
fixed questions at a time. For example:

iotquery
iotquery connect --addr 192.168.1.14 --port 4226
iotquery peer --listen 127.0.0.1:4226
`,
	SilenceUsage: true,
	RunE:         runConnect,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.String("log-level", "error", "log level: debug, info, warn or error")
	pf.String("log-dir", "", "write logs to daily files in this directory instead of stderr")
	mustBind(pf, "log_level", "log-level")
	mustBind(pf, "log_dir", "log-dir")

	addConnectFlags(rootCmd.Flags())
}

func mustBind(fs *pflag.FlagSet, key, flag string) {
	if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(err)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(v, cfgFile)
}
