package cli

import (
	"github.com/spf13/cobra"

	"fare-alerts/internal/domain"
)

var alertsOwner int64

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List active fare alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), cmd.OutOrStdout(), domain.UserID(alertsOwner))
	},
}

func init() {
	alertsCmd.Flags().Int64Var(&alertsOwner, "owner", 0, "Only list alerts of this chat id")
}
