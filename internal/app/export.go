package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fare-alerts/internal/domain"
)

// ExportAlerts writes active alerts as CSV.
func (a *App) ExportAlerts(ctx context.Context, opts ExportOptions) error {
	if opts.Path == "" {
		return errors.New("--csv must be provided")
	}

	registry, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	var alerts []domain.Alert
	if opts.Owner == 0 {
		alerts, err = registry.ListAllActive(ctx)
	} else {
		alerts, err = registry.ListActive(ctx, opts.Owner)
	}
	if err != nil {
		return err
	}

	a.Logger.Info().Int("alerts", len(alerts)).Str("path", opts.Path).Msg("exporting alerts")
	return writeAlertsCSV(opts.Path, alerts)
}

func writeAlertsCSV(path string, alerts []domain.Alert) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "owner", "origin", "destination", "travel_date", "max_price", "created_at", "last_notified_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, alert := range alerts {
		notified := ""
		if alert.LastNotifiedAt != nil {
			notified = alert.LastNotifiedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			string(alert.ID),
			strconv.FormatInt(int64(alert.Owner), 10),
			alert.Origin,
			alert.Destination,
			alert.Date.String(),
			alert.MaxPrice.String(),
			alert.CreatedAt.UTC().Format(time.RFC3339),
			notified,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
