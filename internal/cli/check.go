package cli

import (
	"github.com/spf13/cobra"

	"fare-alerts/internal/app"
	"fare-alerts/internal/domain"
)

var (
	checkOwner  int64
	checkNotify bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Look up fares for one owner's alerts now",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CheckOptions{
			Owner:  domain.UserID(checkOwner),
			Notify: checkNotify,
		}
		return getApp().Check(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	checkCmd.Flags().Int64Var(&checkOwner, "owner", 0, "Chat id whose alerts are checked")
	checkCmd.Flags().BoolVar(&checkNotify, "notify", false, "Also send found fares to the owner over Telegram")
}
