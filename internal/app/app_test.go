package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/config"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/storage"
)

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage:   config.StorageConfig{Driver: config.StorageFile, DataDir: dir},
		Access:    config.AccessConfig{AdminID: 1},
		Offers:    config.OffersConfig{Currency: "BRL"},
		Locations: domain.DefaultLocations,
	}
	return NewApp(cfg, zerolog.Nop()), dir
}

func seed(t *testing.T, dir string, seedFn func(ctx context.Context, reg storage.Registry)) {
	t.Helper()
	reg, err := storage.OpenFileStore(dir, 1, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer reg.Close()
	seedFn(context.Background(), reg)
}

func TestListAlertsAndExport(t *testing.T) {
	a, dir := newTestApp(t)
	seed(t, dir, func(ctx context.Context, reg storage.Registry) {
		for _, alert := range []domain.Alert{
			{Owner: 42, Origin: "GRU", Destination: "SSA", Date: domain.DateOn(2026, time.December, 1), MaxPrice: decimal.NewFromInt(600)},
			{Owner: 43, Origin: "GIG", Destination: domain.AnyDestination, Date: domain.FlexibleDate(), MaxPrice: decimal.NewFromInt(450)},
		} {
			if _, err := reg.AddAlert(ctx, alert); err != nil {
				t.Fatalf("add alert: %v", err)
			}
		}
	})

	var out bytes.Buffer
	if err := a.ListAlerts(context.Background(), &out, 42); err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if !strings.Contains(out.String(), "BRL 600.00") || strings.Contains(out.String(), "BRL 450.00") {
		t.Fatalf("owner filter not applied:\n%s", out.String())
	}

	path := filepath.Join(t.TempDir(), "nested", "alerts.csv")
	if err := a.ExportAlerts(context.Background(), ExportOptions{Path: path}); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 || records[0][0] != "id" || records[2][3] != domain.AnyDestination || records[2][4] != "flexible" {
		t.Fatalf("unexpected csv: %v", records)
	}
}

func TestListAlertsEmpty(t *testing.T) {
	a, _ := newTestApp(t)
	var out bytes.Buffer
	if err := a.ListAlerts(context.Background(), &out, 0); err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no active alerts" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDecideFromCommandLine(t *testing.T) {
	a, dir := newTestApp(t)
	seed(t, dir, func(ctx context.Context, reg storage.Registry) {
		if _, err := reg.Register(ctx, 42, "Ana"); err != nil {
			t.Fatalf("register: %v", err)
		}
	})

	var out bytes.Buffer
	if err := a.ListPending(context.Background(), &out); err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if !strings.Contains(out.String(), "Ana") {
		t.Fatalf("pending table missing entry:\n%s", out.String())
	}

	out.Reset()
	if err := a.Decide(context.Background(), &out, 42, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if strings.TrimSpace(out.String()) != "42: approved" {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := a.Decide(context.Background(), &out, 1, false); err == nil {
		t.Fatal("deciding on the administrator must fail")
	}
	if err := a.Decide(context.Background(), &out, 99, false); err == nil {
		t.Fatal("deciding on an unknown identity must fail")
	}

	seed(t, dir, func(ctx context.Context, reg storage.Registry) {
		ok, err := reg.IsApproved(ctx, 42)
		if err != nil || !ok {
			t.Fatalf("approval not persisted: %v %v", ok, err)
		}
	})
}

func TestCheckRequiresOwner(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.Check(context.Background(), &bytes.Buffer{}, CheckOptions{}); err == nil {
		t.Fatal("expected --owner error")
	}
}
