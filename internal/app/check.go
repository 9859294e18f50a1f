package app

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"fare-alerts/internal/alerting"
	"fare-alerts/internal/service"
)

// Check evaluates one owner's alerts once and prints the results.
// With Notify set, found digests are also delivered over Telegram.
func (a *App) Check(ctx context.Context, w io.Writer, opts CheckOptions) error {
	if err := requireOwner(opts.Owner); err != nil {
		return err
	}
	if a.Config.Offers.APIKey == "" {
		return fmt.Errorf("offers.api_key must be configured")
	}

	registry, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	var notifier alerting.Notifier
	if opts.Notify {
		chat, err := a.newMessenger()
		if err != nil {
			return err
		}
		notifier = alerting.NewMessengerNotifier(chat, a.Config.Catalog(), a.Config.Offers.Currency, a.Logger)
	}

	svc := a.newService(nil, registry, notifier)
	results, err := svc.CheckOwner(ctx, opts.Owner)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "no active alerts")
		return nil
	}

	renderCheck(w, results, a.Config.Offers.Currency)

	if notifier == nil {
		return nil
	}
	for _, result := range results {
		if !result.Found() {
			continue
		}
		if err := notifier.Send(ctx, opts.Owner, result.Digest); err != nil {
			return err
		}
	}
	return nil
}

func renderCheck(w io.Writer, results []service.CheckResult, currency string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Alert", "#", "Destination", "Date", "Price", "Carrier", "Stops"})
	for _, result := range results {
		id := string(result.Alert.ID)
		switch {
		case result.Err != nil:
			t.AppendRow(table.Row{id, "", "error: " + sanitizeInline(result.Err.Error()), "", "", "", ""})
		case !result.Found():
			t.AppendRow(table.Row{id, "", "no offer found", "", "", "", ""})
		default:
			for _, e := range result.Digest.Entries {
				cur := e.Currency
				if cur == "" {
					cur = currency
				}
				t.AppendRow(table.Row{id, e.Rank, fmt.Sprintf("%s (%s)", e.DestinationName, e.Destination), e.Date, cur + " " + e.Price.StringFixed(2), e.Carrier, e.Stops})
			}
		}
		t.AppendSeparator()
	}
	t.Render()
}
