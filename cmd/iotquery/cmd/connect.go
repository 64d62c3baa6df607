package cmd

import (
	"github.com/cyberinferno/iotquery/logger"
	"github.com/cyberinferno/iotquery/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Start an interactive query session",
	Long: `Connect prompts for the server's IPv4 address and port, then lets you send
queries '1', '2' or '3' until you enter '4' or the server disconnects.
--addr and --port skip the matching prompt.`,
	SilenceUsage: true,
	RunE:         runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	addConnectFlags(connectCmd.Flags())
}

func addConnectFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "server IPv4 address (prompted when empty)")
	fs.String("port", "", "server TCP port (prompted when empty)")
	fs.Duration("connect-timeout", 0, "dial timeout (default from config, 10s)")
	fs.Duration("read-timeout", 0, "reply timeout; 0 waits forever")
	fs.Bool("no-color", false, "disable colored output")
}

// bindConnectFlags binds the flags of the command actually running, since
// root and connect each carry their own copies.
func bindConnectFlags(fs *pflag.FlagSet) {
	mustBind(fs, "address", "addr")
	mustBind(fs, "port", "port")
	mustBind(fs, "no_color", "no-color")
	if fs.Changed("connect-timeout") {
		mustBind(fs, "connect_timeout", "connect-timeout")
	}
	if fs.Changed("read-timeout") {
		mustBind(fs, "read_timeout", "read-timeout")
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	bindConnectFlags(cmd.Flags())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := cfg.Logger("iotquery", cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()

	noColor := cfg.NoColor || color.NoColor
	s := session.New(session.Options{
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Log:     log,
		Connect: session.TCPConnector(cfg.TCPClient(), log),
		Address: cfg.Address,
		Port:    cfg.Port,
		NoColor: noColor,
	})

	if err := s.Run(cmd.Context()); err != nil {
		log.Error("session ended with a transport fault", logger.Field{Key: "error", Value: err})
		return err
	}

	return nil
}
