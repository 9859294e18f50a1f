package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"fare-alerts/internal/domain"
)

// ListPending prints identities waiting for an access decision.
func (a *App) ListPending(ctx context.Context, w io.Writer) error {
	registry, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	pending, err := registry.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(w, "no pending requests")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Requested"})
	for _, p := range pending {
		t.AppendRow(table.Row{p.ID, sanitizeInline(p.DisplayName), p.RequestedAt.UTC().Format("2006-01-02 15:04 UTC")})
	}
	t.Render()
	return nil
}

// Decide records an administrator decision from the command line.
func (a *App) Decide(ctx context.Context, w io.Writer, id domain.UserID, approve bool) error {
	if id == 0 {
		return fmt.Errorf("identity must be non-zero")
	}
	if id == a.admin() {
		return fmt.Errorf("the administrator is always approved")
	}

	registry, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	var approval domain.UserApproval
	if approve {
		approval, err = registry.Approve(ctx, id)
	} else {
		approval, err = registry.Deny(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("decide %d: %w", id, err)
	}

	a.Logger.Info().Int64("target", int64(id)).Str("status", string(approval.Status)).Msg("access decided from cli")
	fmt.Fprintf(w, "%d: %s\n", approval.ID, approval.Status)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
