package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/files"
	"github.com/rudransh-shrivastava/peer-drop/internal/session"
	"github.com/rudransh-shrivastava/peer-drop/internal/signaling"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport/webrtc"
	"github.com/spf13/cobra"
)

var (
	joinOut    string
	joinPacing time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join room-id",
	Short: "receive files from a room's host",
	Long:  `join a room, receive everything the host sends and save it once the host is done`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		flags := cmd.Flags()
		if flags.Changed("out") {
			cfg.DownloadDir = joinOut
		}
		if flags.Changed("pacing") {
			cfg.DownloadPacing = joinPacing
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := interruptible(cmd.Context())
		defer cancel()

		gdb, err := db.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		view := newJoinView(os.Stdout)
		opts := sessionOptions(session.RoleJoiner, roomID)
		opts.Observer = session.Observers(view, store.NewRecorder(store.NewTransferStore(gdb), roomID, log))
		opts.Deliverer = &files.Dir{Root: cfg.DownloadDir, Logger: log}
		sess := session.New(opts)
		defer sess.Close()

		sig, err := signaling.Dial(ctx, cfg.SignalURL, roomID, signaling.RoleJoiner)
		if err != nil {
			return err
		}
		defer sig.Close()

		peer, err := webrtc.Dial(ctx, peerConfig(roomID), sig, sess)
		if err != nil {
			return err
		}
		defer peer.Close()

		select {
		case <-view.closed:
			if err := view.err(); err != nil {
				log.WithError(err).Warn("Channel closed with an error")
			}
		case <-ctx.Done():
			log.Warn("Interrupted, saving what has arrived")
		}

		processed, err := sess.DownloadAllPending(context.WithoutCancel(ctx))
		fmt.Fprintln(os.Stdout)
		if announced, received := sess.Batch(); received < announced {
			log.Warnf("Host announced %d files but only %d arrived", announced, received)
		}
		log.Infof("Processed %d files into %s", processed, cfg.DownloadDir)
		return err
	},
}

func init() {
	flags := joinCmd.Flags()
	flags.StringVarP(&joinOut, "out", "o", "", "download directory (env PDROP_DOWNLOAD_DIR)")
	flags.DurationVar(&joinPacing, "pacing", 0, "pause between saved files (env PDROP_DOWNLOAD_PACING)")
}
