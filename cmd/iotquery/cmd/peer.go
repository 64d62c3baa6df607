package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/iotquery/peer"
	"github.com/spf13/cobra"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a stub telemetry server for local testing",
	Long: `Peer listens for query connections and answers '1', '2' and '3' with
canned telemetry. Replies come from the config file's peer.replies, then Redis
when --redis-addr is set, then built-in defaults.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log, err := cfg.Logger("iotquery-peer", cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer log.Close()

		source, cleanup := cfg.Peer.ReplySource()
		defer func() { _ = cleanup() }()

		srv := peer.New(cfg.Peer.PeerConfig(source), log)
		if err := srv.Start(); err != nil {
			return err
		}
		cmd.Printf("telemetry peer listening on %s\n", srv.Addr())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-cmd.Context().Done():
		}

		return srv.Stop()
	},
}

func init() {
	rootCmd.AddCommand(peerCmd)

	fs := peerCmd.Flags()
	fs.String("listen", "127.0.0.1:4226", "address to listen on")
	fs.String("redis-addr", "", "look replies up in this Redis server")
	fs.Bool("close-after-accept", false, "drop every connection right after accepting it")
	fs.Bool("echo", false, "answer each query with its own token")
	mustBind(fs, "peer.listen", "listen")
	mustBind(fs, "peer.redis_addr", "redis-addr")
	mustBind(fs, "peer.close_after_accept", "close-after-accept")
	mustBind(fs, "peer.echo", "echo")
}
