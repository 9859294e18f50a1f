package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"fare-alerts/internal/domain"
)

// ListAlerts prints active alerts, all of them when owner is zero.
func (a *App) ListAlerts(ctx context.Context, w io.Writer, owner domain.UserID) error {
	registry, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	var alerts []domain.Alert
	if owner == 0 {
		alerts, err = registry.ListAllActive(ctx)
	} else {
		alerts, err = registry.ListActive(ctx, owner)
	}
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no active alerts")
		return nil
	}

	catalog := a.Config.Catalog()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "ID", "Owner", "Route", "Date", "Max price", "Last notified"})
	for i, alert := range alerts {
		dest := catalog.Label(alert.Destination)
		if alert.AnyDestination() {
			dest = "any"
		}
		t.AppendRow(table.Row{
			i + 1,
			alert.ID,
			alert.Owner,
			fmt.Sprintf("%s -> %s", catalog.Label(alert.Origin), dest),
			alert.Date.Display(),
			a.Config.Offers.Currency + " " + alert.MaxPrice.StringFixed(2),
			formatOptionalTime(alert.LastNotifiedAt),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(alerts)})
	t.Render()
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
