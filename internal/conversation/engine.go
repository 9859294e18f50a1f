package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fare-alerts/internal/access"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
	"fare-alerts/internal/storage"
)

// ErrNoSession is returned by Handle when the identity has no conversation in progress.
var ErrNoSession = errors.New("conversation: no session in progress")

// State is a step of the alert creation flow.
type State int

const (
	AwaitingOrigin State = iota + 1
	AwaitingDestination
	AwaitingDate
	AwaitingPrice
	Complete
	Cancelled
)

func (s State) String() string {
	switch s {
	case AwaitingOrigin:
		return "awaiting_origin"
	case AwaitingDestination:
		return "awaiting_destination"
	case AwaitingDate:
		return "awaiting_date"
	case AwaitingPrice:
		return "awaiting_price"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FlexibleChoice is the choice value offered for the flexible date window.
const FlexibleChoice = "FLEX"

// ValidationError reports unusable input for the current step.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Choice is one selectable answer offered with a prompt.
type Choice struct {
	Label string
	Value string
}

// Reply is what the engine wants shown to the user after a step.
type Reply struct {
	Text    string
	Choices []Choice
	State   State
	Done    bool
	Alert   *domain.Alert
	Err     error
}

// Authorizer is the subset of the access gate the engine needs.
type Authorizer interface {
	Authorize(ctx context.Context, id domain.UserID) (access.Decision, error)
}

// Options configures an Engine.
type Options struct {
	Catalog        *domain.Catalog
	Alerts         storage.AlertRegistry
	Gate           Authorizer
	AskDestination bool
	SessionTTL     time.Duration
	Location       *time.Location
	Currency       string
	Now            func() time.Time
}

type session struct {
	state       State
	origin      string
	destination string
	date        domain.TravelDate
	updatedAt   time.Time
}

// Engine runs one alert creation conversation per identity.
type Engine struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[domain.UserID]*session
}

// NewEngine constructs an Engine.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Engine{
		opts:     opts,
		logger:   logging.Component(logger, "conversation"),
		sessions: make(map[domain.UserID]*session),
	}
}

// Start opens a new session for owner, discarding any previous one.
func (e *Engine) Start(ctx context.Context, owner domain.UserID) (Reply, error) {
	decision, err := e.opts.Gate.Authorize(ctx, owner)
	if err != nil {
		return Reply{}, err
	}
	if decision != access.Allowed {
		return Reply{}, decision.Err()
	}

	s := &session{state: AwaitingOrigin, updatedAt: e.opts.Now()}

	e.mu.Lock()
	_, replaced := e.sessions[owner]
	e.sessions[owner] = s
	e.mu.Unlock()

	e.logger.Debug().Int64("owner", int64(owner)).Bool("replaced", replaced).Msg("conversation started")
	return e.prompt(s), nil
}

// Handle feeds one input to the owner's session.
func (e *Engine) Handle(ctx context.Context, owner domain.UserID, input string) (Reply, error) {
	input = strings.TrimSpace(input)

	e.mu.Lock()
	current, ok := e.lookupLocked(owner)
	var s session
	if ok {
		s = *current
	}
	e.mu.Unlock()

	if !ok {
		return Reply{}, ErrNoSession
	}
	if isCancel(input) {
		return e.Cancel(owner), nil
	}

	// Access may have been revoked since Start.
	decision, err := e.opts.Gate.Authorize(ctx, owner)
	if err != nil {
		return Reply{}, err
	}
	if decision != access.Allowed {
		e.mu.Lock()
		if e.sessions[owner] == current {
			delete(e.sessions, owner)
		}
		e.mu.Unlock()
		e.logger.Info().Int64("owner", int64(owner)).Str("decision", decision.String()).Msg("conversation dropped after access change")
		return Reply{}, decision.Err()
	}

	reply, err := e.step(ctx, owner, &s, input)
	if err != nil {
		return Reply{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[owner] != current {
		// A newer Start replaced this session while we were working.
		return reply, nil
	}
	if reply.Done {
		delete(e.sessions, owner)
		return reply, nil
	}
	s.updatedAt = e.opts.Now()
	*current = s
	return reply, nil
}

// Cancel drops the owner's session, if any.
func (e *Engine) Cancel(owner domain.UserID) Reply {
	e.mu.Lock()
	_, ok := e.lookupLocked(owner)
	delete(e.sessions, owner)
	e.mu.Unlock()

	if !ok {
		return Reply{Text: "There is no alert being created right now.", State: Cancelled}
	}
	e.logger.Debug().Int64("owner", int64(owner)).Msg("conversation cancelled")
	return Reply{Text: "Alert creation cancelled. Nothing was saved.", State: Cancelled, Done: true}
}

// Active reports whether owner has a live session.
func (e *Engine) Active(owner domain.UserID) bool {
	_, ok := e.State(owner)
	return ok
}

// State returns the owner's current step.
func (e *Engine) State(owner domain.UserID) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.lookupLocked(owner)
	if !ok {
		return 0, false
	}
	return s.state, true
}

// lookupLocked returns the live session, discarding it when abandoned.
func (e *Engine) lookupLocked(owner domain.UserID) (*session, bool) {
	s, ok := e.sessions[owner]
	if !ok {
		return nil, false
	}
	if e.opts.SessionTTL > 0 && e.opts.Now().Sub(s.updatedAt) > e.opts.SessionTTL {
		delete(e.sessions, owner)
		e.logger.Debug().Int64("owner", int64(owner)).Msg("conversation expired")
		return nil, false
	}
	return s, true
}

func (e *Engine) step(ctx context.Context, owner domain.UserID, s *session, input string) (Reply, error) {
	switch s.state {
	case AwaitingOrigin:
		code := strings.ToUpper(input)
		if !e.opts.Catalog.Known(code) {
			return e.retry(s, invalid("origin", "Pick one of the listed airports.")), nil
		}
		s.origin = code
		if e.opts.AskDestination {
			s.state = AwaitingDestination
		} else {
			s.destination = domain.AnyDestination
			s.state = AwaitingDate
		}
		return e.prompt(s), nil

	case AwaitingDestination:
		code := strings.ToUpper(input)
		switch {
		case code == domain.AnyDestination:
			s.destination = domain.AnyDestination
		case code == s.origin:
			return e.retry(s, invalid("destination", "The destination must differ from the origin.")), nil
		case e.opts.Catalog.Known(code):
			s.destination = code
		default:
			return e.retry(s, invalid("destination", "Pick one of the listed airports or any destination.")), nil
		}
		s.state = AwaitingDate
		return e.prompt(s), nil

	case AwaitingDate:
		date, err := ParseDate(input, e.opts.Now().In(e.opts.Location))
		if err != nil {
			return e.retry(s, err), nil
		}
		s.date = date
		s.state = AwaitingPrice
		return e.prompt(s), nil

	case AwaitingPrice:
		price, err := ParsePrice(input)
		if err != nil {
			return e.retry(s, err), nil
		}
		alert := domain.Alert{
			Owner:       owner,
			Origin:      s.origin,
			Destination: s.destination,
			Date:        s.date,
			MaxPrice:    price,
			Active:      true,
			CreatedAt:   e.opts.Now().UTC(),
		}
		if err := alert.Validate(e.opts.Catalog); err != nil {
			return Reply{}, err
		}
		id, err := e.opts.Alerts.AddAlert(ctx, alert)
		if err != nil {
			return Reply{}, fmt.Errorf("save alert: %w", err)
		}
		alert.ID = id
		s.state = Complete

		e.logger.Info().
			Int64("owner", int64(owner)).
			Str("alert_id", string(id)).
			Str("origin", alert.Origin).
			Str("destination", alert.Destination).
			Msg("alert created")
		return Reply{
			Text:  "Alert created: " + alert.Summary(e.opts.Catalog, e.opts.Currency) + "\nI will message you when I find matching fares.",
			State: Complete,
			Done:  true,
			Alert: &alert,
		}, nil
	}
	return Reply{}, fmt.Errorf("conversation in unexpected state %s", s.state)
}

func (e *Engine) retry(s *session, err error) Reply {
	reply := e.prompt(s)
	reply.Err = err
	var verr *ValidationError
	if errors.As(err, &verr) {
		reply.Text = verr.Reason + "\n" + reply.Text
	}
	return reply
}

func (e *Engine) prompt(s *session) Reply {
	reply := Reply{State: s.state}
	switch s.state {
	case AwaitingOrigin:
		reply.Text = "Where are you flying from?"
		reply.Choices = locationChoices(e.opts.Catalog.All())
	case AwaitingDestination:
		reply.Text = fmt.Sprintf("Flying from %s. Where to?", e.opts.Catalog.Label(s.origin))
		reply.Choices = append(locationChoices(e.opts.Catalog.Except(s.origin)),
			Choice{Label: "Any destination", Value: domain.AnyDestination})
	case AwaitingDate:
		reply.Text = "When do you want to fly? Send the date as DD/MM/YYYY or choose flexible dates."
		reply.Choices = []Choice{{Label: "Flexible dates", Value: FlexibleChoice}}
	case AwaitingPrice:
		reply.Text = fmt.Sprintf("What is the most you want to pay (%s)?", e.opts.Currency)
	}
	return reply
}

func locationChoices(locations []domain.Location) []Choice {
	out := make([]Choice, 0, len(locations)+1)
	for _, loc := range locations {
		out = append(out, Choice{Label: fmt.Sprintf("%s (%s)", loc.Name, loc.Code), Value: loc.Code})
	}
	return out
}

func isCancel(input string) bool {
	switch strings.ToLower(input) {
	case "/cancel", "cancel", "cancelar":
		return true
	}
	return false
}
