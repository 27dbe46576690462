package cmd

import (
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rudransh-shrivastava/peer-drop/internal/db"
	"github.com/rudransh-shrivastava/peer-drop/internal/store"
	"github.com/spf13/cobra"
)

var historyRoom string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list past transfers",
	Long:  `print the transfer journal, optionally for a single room`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close(gdb) }()

		transfers := store.NewTransferStore(gdb)
		var rows []db.Transfer
		if historyRoom != "" {
			rows, err = transfers.ListByRoom(cmd.Context(), historyRoom)
		} else {
			rows, err = transfers.List(cmd.Context())
		}
		if err != nil {
			return err
		}

		renderHistory(os.Stdout, rows)
		return nil
	},
}

func renderHistory(out io.Writer, rows []db.Transfer) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Room", "Role", "Name", "Size", "Status", "Reason", "Updated"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, t := range rows {
		table.Append([]string{
			t.RoomID,
			t.Role,
			t.Name,
			humanize.Bytes(uint64(t.SizeBytes)),
			t.Status,
			t.Reason,
			humanize.Time(t.UpdatedAt),
		})
	}
	table.Render()
}

func init() {
	historyCmd.Flags().StringVar(&historyRoom, "room", "", "only show this room")
}
