// Package cmd holds the pdrop command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peer-drop/internal/config"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/webrtc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg config.Config
	log *logrus.Logger

	signalURL    string
	logLevel     string
	databasePath string
)

var rootCmd = &cobra.Command{
	Use:           `pdrop`,
	Long:          `pdrop sends files straight from one peer to another over a WebRTC data channel`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		flags := cmd.Flags()
		if flags.Changed("signal") {
			cfg.SignalURL = signalURL
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("db") {
			cfg.DatabasePath = databasePath
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err = logger.New(os.Stderr, cfg.LogLevel)
		return err
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if log == nil {
			log = logger.NewLogger()
		}
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&signalURL, "signal", "", "signaling relay url (env PDROP_SIGNAL_URL)")
	flags.StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error (env PDROP_LOG_LEVEL)")
	flags.StringVar(&databasePath, "db", "", "transfer journal path (env PDROP_DATABASE_PATH)")

	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(historyCmd)
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func sessionOptions(role session.Role, roomID string) session.Options {
	return session.Options{
		Role:           role,
		RoomID:         roomID,
		Logger:         log,
		ChunkSize:      cfg.ChunkSize,
		InFlightWindow: cfg.InFlightWindow,
		AckTimeout:     cfg.AckTimeout,
		DownloadPacing: cfg.DownloadPacing,
	}
}

func peerConfig(roomID string) webrtc.Config {
	servers := cfg.STUNServers
	if len(servers) == 0 {
		servers = webrtc.DefaultSTUNServers()
	}
	return webrtc.Config{
		RoomID:      roomID,
		STUNServers: servers,
		Logger:      log,
	}
}
