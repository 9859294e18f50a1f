package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
)

const (
	alertsFile    = "alerts.json"
	approvalsFile = "approvals.json"
)

// FileStore persists the registry as two JSON documents, each rewritten in
// full on every mutation through a temp file and rename. Both documents are
// re-read before every call, so a CLI process and the running bot see each
// other's writes.
type FileStore struct {
	*MemoryStore
	logger zerolog.Logger
}

// OpenFileStore loads (or initialises) the registry files under dir.
func OpenFileStore(dir string, admin domain.UserID, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrStorage, err)
	}

	alertsPath := filepath.Join(dir, alertsFile)
	approvalsPath := filepath.Join(dir, approvalsFile)
	load := func() ([]domain.Alert, []domain.UserApproval, error) {
		var (
			alerts    []domain.Alert
			approvals []domain.UserApproval
		)
		if err := readJSON(alertsPath, &alerts); err != nil {
			return nil, nil, err
		}
		if err := readJSON(approvalsPath, &approvals); err != nil {
			return nil, nil, err
		}
		return alerts, approvals, nil
	}

	mem := NewMemoryStore(admin)
	alerts, approvals, err := load()
	if err != nil {
		return nil, err
	}
	mem.alerts = alerts
	mem.approvals = approvals
	mem.load = load

	fs := &FileStore{
		MemoryStore: mem,
		logger:      logging.Component(logger, "file_store"),
	}
	mem.flushAlerts = func(alerts []domain.Alert) error {
		return writeJSONAtomic(alertsPath, alerts)
	}
	mem.flushApprovals = func(approvals []domain.UserApproval) error {
		return writeJSONAtomic(approvalsPath, approvals)
	}

	fs.logger.Info().
		Str("dir", dir).
		Int("alerts", len(mem.alerts)).
		Int("approvals", len(mem.approvals)).
		Msg("registry loaded")
	return fs, nil
}

func readJSON(path string, into any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrStorage, filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrStorage, filepath.Base(path), err)
	}
	return nil
}

func writeJSONAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var _ Registry = (*FileStore)(nil)
