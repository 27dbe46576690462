package cmd

import (
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
	hostWindow     int
	hostChunkSize  int
	hostAckTimeout time.Duration
)

var hostCmd = &cobra.Command{
	Use:   "host room-id file...",
	Short: "send files to whoever joins the room",
	Long:  `open a room on the signaling relay, wait for a joiner and send it the files`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		flags := cmd.Flags()
		if flags.Changed("window") {
			cfg.InFlightWindow = hostWindow
		}
		if flags.Changed("chunk-size") {
			cfg.ChunkSize = hostChunkSize
		}
		if flags.Changed("ack-timeout") {
			cfg.AckTimeout = hostAckTimeout
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		raw, err := files.LoadAll(args[1:])
		if err != nil {
			return err
		}

		ctx, cancel := interruptible(cmd.Context())
		defer cancel()

		gdb, err := db.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		view := newHostView(os.Stdout, raw)
		opts := sessionOptions(session.RoleHost, roomID)
		opts.Observer = session.Observers(view, store.NewRecorder(store.NewTransferStore(gdb), roomID, log))
		sess := session.New(opts)
		defer sess.Close()

		if _, err := sess.SelectFiles(raw); err != nil {
			return err
		}

		sig, err := signaling.Dial(ctx, cfg.SignalURL, roomID, signaling.RoleHost)
		if err != nil {
			return err
		}
		defer sig.Close()

		log.Infof("Room %s is open, waiting for a joiner", roomID)
		peer, err := webrtc.Listen(ctx, peerConfig(roomID), sig, sess)
		if err != nil {
			return err
		}
		defer peer.Close()

		select {
		case <-view.connected:
		case <-view.closed:
			return fmt.Errorf("joiner left before the channel opened: %w", view.err())
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := sess.SendSelected(ctx); err != nil {
			log.WithError(err).Warn("Sending stopped early")
		} else {
			select {
			case <-view.done:
			case <-ctx.Done():
				log.Warn("Interrupted before every file was acknowledged")
			}
		}

		if failed := printSummary(os.Stdout, sess.Outbound()); failed > 0 {
			return fmt.Errorf("%d of %d files were not delivered", failed, len(raw))
		}
		return nil
	},
}

func init() {
	flags := hostCmd.Flags()
	flags.IntVar(&hostWindow, "window", 0, "files awaiting acknowledgement at once (env PDROP_IN_FLIGHT_WINDOW)")
	flags.IntVar(&hostChunkSize, "chunk-size", 0, "payload bytes per frame (env PDROP_CHUNK_SIZE)")
	flags.DurationVar(&hostAckTimeout, "ack-timeout", 0, "fail a file not acknowledged in time, 0 waits forever (env PDROP_ACK_TIMEOUT)")
}
