package cli

import (
	"github.com/spf13/cobra"

	"fare-alerts/internal/app"
	"fare-alerts/internal/domain"
)

var (
	exportCSVPath string
	exportOwner   int64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export active alerts as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Path:  exportCSVPath,
			Owner: domain.UserID(exportOwner),
		}
		return getApp().ExportAlerts(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().Int64Var(&exportOwner, "owner", 0, "Only export alerts of this chat id")
}
