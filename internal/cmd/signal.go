package cmd

import (
	"github.com/rudransh-shrivastava/peer-drop/internal/signaling"
	"github.com/spf13/cobra"
)

var signalListen string

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "run the signaling relay",
	Long:  `serve the websocket relay hosts and joiners use to find each other`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = signalListen
		}

		ctx, cancel := interruptible(cmd.Context())
		defer cancel()

		srv := signaling.NewServer(signaling.Config{Logger: log})
		return srv.ListenAndServe(ctx, cfg.ListenAddr)
	},
}

func init() {
	signalCmd.Flags().StringVarP(&signalListen, "listen", "l", "", "listen address (env PDROP_LISTEN_ADDR)")
}
