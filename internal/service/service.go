package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fare-alerts/internal/alerting"
	"fare-alerts/internal/config"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
	"fare-alerts/internal/offers"
	"fare-alerts/internal/scheduler"
	"fare-alerts/internal/storage"
)

// Options bound the cost and shape of one alert evaluation.
type Options struct {
	TopN               int
	QueryTimeout       time.Duration
	MaxQueriesPerAlert int
	FlexibleSamples    int
	FlexibleWindow     time.Duration
	AnyDestinations    []string
	SuppressRepeats    bool
	Concurrency        int
	AdvisoryLockKey    int64
	Location           *time.Location
}

// OptionsFromConfig maps runtime configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopN:               cfg.Evaluation.TopN,
		QueryTimeout:       cfg.Evaluation.QueryTimeout,
		MaxQueriesPerAlert: cfg.Evaluation.MaxQueriesPerAlert,
		FlexibleSamples:    cfg.Evaluation.FlexibleSamples,
		FlexibleWindow:     cfg.Evaluation.FlexibleWindow,
		AnyDestinations:    cfg.Evaluation.AnyDestinations,
		SuppressRepeats:    cfg.Evaluation.SuppressRepeats,
		Concurrency:        cfg.Scheduler.Concurrency,
		AdvisoryLockKey:    cfg.Scheduler.AdvisoryLockKey,
		Location:           cfg.TimeLocation(),
	}
}

// TickSummary counts what happened to each alert in one pass.
type TickSummary struct {
	Evaluated  int
	Notified   int
	Empty      int
	Suppressed int
	Failed     int
	// Unrecorded counts digests that were delivered but whose MarkNotified failed.
	Unrecorded int
}

// CheckResult is the outcome of an on-demand evaluation of one alert.
type CheckResult struct {
	Alert  domain.Alert
	Digest alerting.Digest
	Err    error
}

// Found reports whether the check produced offers.
func (r CheckResult) Found() bool {
	return r.Err == nil && len(r.Digest.Entries) > 0
}

// Service evaluates alerts against the offer source and notifies owners.
type Service struct {
	opts      Options
	scheduler *scheduler.Scheduler
	source    offers.Source
	alerts    storage.AlertRegistry
	notifier  alerting.Notifier
	catalog   *domain.Catalog
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger
	now       func() time.Time
	onTick    func(scheduler.Tick, TickSummary)
}

// New constructs the evaluation service.
func New(opts Options, sched *scheduler.Scheduler, source offers.Source, alerts storage.AlertRegistry, notifier alerting.Notifier, catalog *domain.Catalog, logger zerolog.Logger) *Service {
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FlexibleSamples <= 0 {
		opts.FlexibleSamples = 1
	}
	if opts.FlexibleWindow < 24*time.Hour {
		opts.FlexibleWindow = 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var locker storage.AdvisoryLocker
	if l, ok := alerts.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:      opts,
		scheduler: sched,
		source:    source,
		alerts:    alerts,
		notifier:  notifier,
		catalog:   catalog,
		locker:    locker,
		logger:    logging.Component(logger, "service"),
		now:       time.Now,
	}
}

// OnTick registers fn to observe each completed pass. Not safe to call once Run has started.
func (s *Service) OnTick(fn func(scheduler.Tick, TickSummary)) {
	s.onTick = fn
}

// Run begins the periodic evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one evaluation pass over every active alert.
func (s *Service) ProcessTick(ctx context.Context, tick scheduler.Tick) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Uint64("tick", tick.Seq).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := s.EvaluateAll(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().
		Uint64("tick", tick.Seq).
		Int("evaluated", summary.Evaluated).
		Int("notified", summary.Notified).
		Int("empty", summary.Empty).
		Int("suppressed", summary.Suppressed).
		Int("failed", summary.Failed).
		Int("unrecorded", summary.Unrecorded).
		Msg("tick complete")
	if s.onTick != nil {
		s.onTick(tick, summary)
	}
	return nil
}

// EvaluateAll snapshots the active alerts and evaluates each in isolation.
func (s *Service) EvaluateAll(ctx context.Context) (TickSummary, error) {
	snapshot, err := s.alerts.ListAllActive(ctx)
	if err != nil {
		return TickSummary{}, fmt.Errorf("list active alerts: %w", err)
	}

	var (
		mu      sync.Mutex
		summary TickSummary
		g       errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for _, alert := range snapshot {
		g.Go(func() error {
			outcome := s.processAlert(ctx, alert)
			mu.Lock()
			defer mu.Unlock()
			summary.Evaluated++
			switch outcome {
			case outcomeNotified:
				summary.Notified++
			case outcomeEmpty:
				summary.Empty++
			case outcomeSuppressed:
				summary.Suppressed++
			case outcomeFailed:
				summary.Failed++
			case outcomeUnrecorded:
				summary.Unrecorded++
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

type outcome int

const (
	outcomeEmpty outcome = iota
	outcomeNotified
	outcomeSuppressed
	outcomeFailed
	outcomeUnrecorded
)

func (s *Service) processAlert(ctx context.Context, alert domain.Alert) (result outcome) {
	log := s.alertLogger(alert)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("alert evaluation panicked")
			result = outcomeFailed
		}
	}()

	found, err := s.evaluate(ctx, alert)
	if err != nil {
		log.Error().Err(err).Msg("alert evaluation failed")
		return outcomeFailed
	}
	if len(found) == 0 {
		log.Debug().Msg("no qualifying offers")
		return outcomeEmpty
	}

	digest := alerting.NewDigest(alert, found, s.catalog)
	key := digest.Key()
	if s.opts.SuppressRepeats && key == alert.LastDigestKey {
		log.Debug().Str("digest", key).Msg("digest unchanged; notification suppressed")
		return outcomeSuppressed
	}

	if err := s.notifier.Send(ctx, alert.Owner, digest); err != nil {
		log.Error().Err(err).Msg("failed to deliver digest")
		return outcomeFailed
	}
	if err := s.alerts.MarkNotified(ctx, alert.ID, s.now().UTC(), key); err != nil {
		log.Error().Err(err).Msg("digest delivered but notification not recorded")
		return outcomeUnrecorded
	}
	return outcomeNotified
}

// CheckOwner evaluates one owner's alerts now and reports per-alert results.
// Nothing is marked as notified.
func (s *Service) CheckOwner(ctx context.Context, owner domain.UserID) ([]CheckResult, error) {
	alerts, err := s.alerts.ListActive(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	results := make([]CheckResult, 0, len(alerts))
	for _, alert := range alerts {
		found, err := s.evaluate(ctx, alert)
		if err != nil {
			s.alertLogger(alert).Warn().Err(err).Msg("manual check failed")
			results = append(results, CheckResult{Alert: alert, Err: err})
			continue
		}
		digest := alerting.NewDigest(alert, found, s.catalog)
		digest.Manual = true
		results = append(results, CheckResult{Alert: alert, Digest: digest})
	}
	return results, nil
}

// evaluate runs the query plan for alert and returns the ranked, filtered offers.
func (s *Service) evaluate(ctx context.Context, alert domain.Alert) ([]domain.Offer, error) {
	plan := s.plan(alert, s.now())
	log := s.alertLogger(alert)

	var collected []domain.Offer
	for _, q := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := s.query(ctx, q)
		if errors.Is(err, offers.ErrTimeout) {
			log.Warn().Bool("timeout", true).Str("query", q.String()).Msg("offer query timed out; treating as no results")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q, err)
		}
		collected = append(collected, got...)
	}
	return rank(collected, alert, s.opts.TopN), nil
}

func (s *Service) query(ctx context.Context, q offers.Query) ([]domain.Offer, error) {
	if s.opts.QueryTimeout <= 0 {
		return s.source.Query(ctx, q)
	}
	qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	got, err := s.source.Query(qctx, q)
	if err != nil && ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) && !errors.Is(err, offers.ErrTimeout) {
		return nil, fmt.Errorf("%w: %v", offers.ErrTimeout, err)
	}
	return got, err
}

// plan expands an alert into concrete queries, capped by MaxQueriesPerAlert.
func (s *Service) plan(alert domain.Alert, now time.Time) []offers.Query {
	destinations := []string{alert.Destination}
	if alert.AnyDestination() {
		destinations = s.candidates(alert.Origin)
	}

	dates := []time.Time{alert.Date.Day}
	if alert.Date.Flexible {
		dates = s.sampleDates(now)
	}

	queries := make([]offers.Query, 0, len(dates)*len(destinations))
	for _, day := range dates {
		for _, dest := range destinations {
			queries = append(queries, offers.Query{Origin: alert.Origin, Destination: dest, Date: day})
		}
	}

	if limit := s.opts.MaxQueriesPerAlert; limit > 0 && len(queries) > limit {
		s.alertLogger(alert).Warn().
			Int("planned", len(queries)).
			Int("limit", limit).
			Msg("query plan truncated")
		queries = queries[:limit]
	}
	return queries
}

// candidates is the ANY destination set: configured codes or the whole catalog, minus origin.
func (s *Service) candidates(origin string) []string {
	pool := s.opts.AnyDestinations
	if len(pool) == 0 {
		pool = s.catalog.Codes()
	}
	out := make([]string, 0, len(pool))
	for _, code := range pool {
		code = strings.ToUpper(code)
		if code != origin && code != domain.AnyDestination {
			out = append(out, code)
		}
	}
	return out
}

// sampleDates spreads FlexibleSamples days evenly over the window starting tomorrow.
func (s *Service) sampleDates(now time.Time) []time.Time {
	local := now.In(s.opts.Location)
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, time.UTC)

	windowDays := int(s.opts.FlexibleWindow / (24 * time.Hour))
	if windowDays < 1 {
		windowDays = 1
	}
	n := s.opts.FlexibleSamples
	if n > windowDays {
		n = windowDays
	}
	if n == 1 {
		return []time.Time{tomorrow}
	}

	step := (windowDays - 1) / (n - 1)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tomorrow.AddDate(0, 0, i*step))
	}
	return out
}

// rank drops offers above the ceiling, sorts ascending and keeps the top n.
func rank(found []domain.Offer, alert domain.Alert, n int) []domain.Offer {
	kept := make([]domain.Offer, 0, len(found))
	for _, offer := range found {
		if offer.Price.IsPositive() && offer.Price.LessThanOrEqual(alert.MaxPrice) {
			kept = append(kept, offer)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if c := kept[i].Price.Cmp(kept[j].Price); c != 0 {
			return c < 0
		}
		if kept[i].Destination != kept[j].Destination {
			return kept[i].Destination < kept[j].Destination
		}
		return kept[i].Date.Before(kept[j].Date)
	})
	if len(kept) > n {
		kept = kept[:n]
	}
	return kept
}

func (s *Service) alertLogger(alert domain.Alert) zerolog.Logger {
	return s.logger.With().
		Str("alert_id", string(alert.ID)).
		Int64("owner", int64(alert.Owner)).
		Str("origin", alert.Origin).
		Str("destination", alert.Destination).
		Logger()
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
