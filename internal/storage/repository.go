package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	alertColumns = `id, owner, origin, destination, travel_date, max_price::text, active, created_at, last_notified_at, last_digest_key`

	insertAlertSQL = `INSERT INTO fare_alerts (
        id, owner, origin, destination, travel_date, max_price, active, created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,TRUE,$7
    );`

	listActiveSQL = `SELECT ` + alertColumns + `
    FROM fare_alerts
    WHERE owner = $1 AND active
    ORDER BY seq;`

	listAllActiveSQL = `SELECT ` + alertColumns + `
    FROM fare_alerts
    WHERE active
    ORDER BY seq;`

	lockOwnerSQL = `SELECT pg_advisory_xact_lock($1);`

	selectActiveAtSQL = `SELECT seq
    FROM fare_alerts
    WHERE owner = $1 AND active
    ORDER BY seq
    OFFSET $2 LIMIT 1;`

	selectActiveByIDSQL = `SELECT seq
    FROM fare_alerts
    WHERE owner = $1 AND id = $2 AND active;`

	deactivateSQL = `UPDATE fare_alerts
    SET active = FALSE
    WHERE seq = $1
    RETURNING ` + alertColumns + `;`

	markNotifiedSQL = `UPDATE fare_alerts
    SET last_notified_at = $2, last_digest_key = $3
    WHERE id = $1;`

	registerSQL = `WITH inserted AS (
        INSERT INTO user_approvals (id, display_name, status, requested_at)
        VALUES ($1, $2, 'pending', $3)
        ON CONFLICT (id) DO NOTHING
        RETURNING status
    )
    SELECT status, TRUE FROM inserted
    UNION ALL
    SELECT status, FALSE FROM user_approvals WHERE id = $1
    LIMIT 1;`

	decideSQL = `UPDATE user_approvals
    SET status = $2,
        decided_at = CASE WHEN status = $2 THEN decided_at ELSE $3 END
    WHERE id = $1
    RETURNING id, display_name, status, requested_at, decided_at;`

	lookupApprovalSQL = `SELECT id, display_name, status, requested_at, decided_at
    FROM user_approvals
    WHERE id = $1;`

	listPendingSQL = `SELECT id, display_name, status, requested_at, decided_at
    FROM user_approvals
    WHERE status = 'pending'
    ORDER BY seq;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL-backed registry.
type Store struct {
	pool  *pgxpool.Pool
	admin domain.UserID
	now   func() time.Time
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, admin domain.UserID) *Store {
	return &Store{pool: pool, admin: admin, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the registry tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrStorage, err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AddAlert inserts a new active alert.
func (s *Store) AddAlert(ctx context.Context, alert domain.Alert) (domain.AlertID, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}

	id := domain.AlertID(uuid.NewString())
	created := alert.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	if _, err := pool.Exec(ctx, insertAlertSQL,
		string(id),
		int64(alert.Owner),
		alert.Origin,
		alert.Destination,
		alert.Date.String(),
		alert.MaxPrice.String(),
		created,
	); err != nil {
		return "", fmt.Errorf("%w: insert alert: %v", ErrStorage, err)
	}
	return id, nil
}

// ListActive lists one owner's active alerts in insertion order.
func (s *Store) ListActive(ctx context.Context, owner domain.UserID) ([]domain.Alert, error) {
	return s.queryAlerts(ctx, listActiveSQL, int64(owner))
}

// ListAllActive lists every active alert in insertion order.
func (s *Store) ListAllActive(ctx context.Context) ([]domain.Alert, error) {
	return s.queryAlerts(ctx, listAllActiveSQL)
}

// RemoveAt deactivates the index-th alert of the owner's active view. The
// owner's view is locked for the duration of the transaction.
func (s *Store) RemoveAt(ctx context.Context, owner domain.UserID, index int) (domain.Alert, error) {
	if index < 0 {
		return domain.Alert{}, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	return s.deactivateWhere(ctx, owner, func(tx pgx.Tx) (int64, error) {
		var seq int64
		err := tx.QueryRow(ctx, selectActiveAtSQL, int64(owner), index).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %d", ErrOutOfRange, index)
		}
		return seq, err
	})
}

// Remove deactivates an owner's alert by stable id.
func (s *Store) Remove(ctx context.Context, owner domain.UserID, id domain.AlertID) (domain.Alert, error) {
	return s.deactivateWhere(ctx, owner, func(tx pgx.Tx) (int64, error) {
		var seq int64
		err := tx.QueryRow(ctx, selectActiveByIDSQL, int64(owner), string(id)).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return seq, err
	})
}

func (s *Store) deactivateWhere(ctx context.Context, owner domain.UserID, pick func(pgx.Tx) (int64, error)) (domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Alert{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockOwnerSQL, int64(owner)); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: lock owner: %v", ErrStorage, err)
	}

	seq, err := pick(tx)
	if err != nil {
		if errors.Is(err, ErrOutOfRange) || errors.Is(err, domain.ErrNotFound) {
			return domain.Alert{}, err
		}
		return domain.Alert{}, fmt.Errorf("%w: select alert: %v", ErrStorage, err)
	}

	rows, err := tx.Query(ctx, deactivateSQL, seq)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: deactivate: %v", ErrStorage, err)
	}
	removed, err := collectAlerts(rows)
	if err != nil {
		return domain.Alert{}, err
	}
	if len(removed) != 1 {
		return domain.Alert{}, fmt.Errorf("%w: deactivate affected %d rows", ErrStorage, len(removed))
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return removed[0], nil
}

// MarkNotified records the latest delivered digest for an alert.
func (s *Store) MarkNotified(ctx context.Context, id domain.AlertID, at time.Time, digestKey string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, markNotifiedSQL, string(id), at.UTC(), digestKey)
	if err != nil {
		return fmt.Errorf("%w: mark notified: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Register creates a pending approval on first contact.
func (s *Store) Register(ctx context.Context, id domain.UserID, displayName string) (domain.RegisterResult, error) {
	if id == s.admin {
		return domain.RegisteredApproved, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}

	var status string
	var created bool
	if err := pool.QueryRow(ctx, registerSQL, int64(id), displayName, s.now()).Scan(&status, &created); err != nil {
		return "", fmt.Errorf("%w: register: %v", ErrStorage, err)
	}
	if created {
		return domain.RegisteredNew, nil
	}
	return domain.ResultFor(domain.ApprovalStatus(status)), nil
}

// Approve records an administrator approval.
func (s *Store) Approve(ctx context.Context, id domain.UserID) (domain.UserApproval, error) {
	return s.decide(ctx, id, domain.ApprovalApproved)
}

// Deny records an administrator denial.
func (s *Store) Deny(ctx context.Context, id domain.UserID) (domain.UserApproval, error) {
	return s.decide(ctx, id, domain.ApprovalDenied)
}

func (s *Store) decide(ctx context.Context, id domain.UserID, status domain.ApprovalStatus) (domain.UserApproval, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.UserApproval{}, err
	}
	approval, err := scanApproval(pool.QueryRow(ctx, decideSQL, int64(id), string(status), s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserApproval{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserApproval{}, fmt.Errorf("%w: decide: %v", ErrStorage, err)
	}
	return approval, nil
}

// IsApproved reports whether id may use the bot.
func (s *Store) IsApproved(ctx context.Context, id domain.UserID) (bool, error) {
	if id == s.admin {
		return true, nil
	}
	approval, ok, err := s.Lookup(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return approval.Status == domain.ApprovalApproved, nil
}

// Lookup returns the stored approval for id, if any.
func (s *Store) Lookup(ctx context.Context, id domain.UserID) (domain.UserApproval, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.UserApproval{}, false, err
	}
	approval, err := scanApproval(pool.QueryRow(ctx, lookupApprovalSQL, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserApproval{}, false, nil
	}
	if err != nil {
		return domain.UserApproval{}, false, fmt.Errorf("lookup approval: %w", err)
	}
	return approval, true, nil
}

// ListPending lists approvals awaiting a decision, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]domain.UserApproval, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UserApproval, 0)
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, approval)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]domain.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	defer rows.Close()

	alerts := make([]domain.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		alert        domain.Alert
		id           string
		owner        int64
		travelDate   string
		maxPrice     string
		lastNotified *time.Time
	)
	if err := row.Scan(
		&id,
		&owner,
		&alert.Origin,
		&alert.Destination,
		&travelDate,
		&maxPrice,
		&alert.Active,
		&alert.CreatedAt,
		&lastNotified,
		&alert.LastDigestKey,
	); err != nil {
		return domain.Alert{}, err
	}

	date, err := domain.ParseTravelDate(travelDate)
	if err != nil {
		return domain.Alert{}, err
	}
	price, err := decimal.NewFromString(maxPrice)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("parse max price: %w", err)
	}

	alert.ID = domain.AlertID(id)
	alert.Owner = domain.UserID(owner)
	alert.Date = date
	alert.MaxPrice = price
	alert.LastNotifiedAt = lastNotified
	return alert, nil
}

func scanApproval(row pgx.Row) (domain.UserApproval, error) {
	var (
		approval domain.UserApproval
		id       int64
		status   string
	)
	if err := row.Scan(&id, &approval.DisplayName, &status, &approval.RequestedAt, &approval.DecidedAt); err != nil {
		return domain.UserApproval{}, err
	}
	approval.ID = domain.UserID(id)
	approval.Status = domain.ApprovalStatus(status)
	return approval, nil
}

var (
	_ Registry       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
