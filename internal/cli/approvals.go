package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fare-alerts/internal/domain"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage access requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending access requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListPending(cmd.Context(), cmd.OutOrStdout())
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Grant access to a chat id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], true)
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Refuse access to a chat id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], false)
	},
}

func decide(cmd *cobra.Command, raw string, approve bool) error {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return getApp().Decide(cmd.Context(), cmd.OutOrStdout(), domain.UserID(id), approve)
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsDenyCmd)
}
