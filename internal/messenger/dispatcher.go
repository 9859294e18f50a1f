package messenger

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
)

// Dispatcher routes inbound events to registered handlers. Events from one
// identity run one at a time in arrival order; identities run in parallel.
// A lane goroutine exists only while its identity has queued events.
type Dispatcher struct {
	logger zerolog.Logger

	mu        sync.Mutex
	commands  map[string]Handler
	freeText  Handler
	selection Handler
	lanes     map[domain.UserID]*lane
	closed    bool
	wg        sync.WaitGroup
}

type lane struct {
	queue []Event
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logging.Component(logger, "dispatcher"),
		commands: make(map[string]Handler),
		lanes:    make(map[domain.UserID]*lane),
	}
}

func (d *Dispatcher) OnCommand(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[strings.ToLower(strings.TrimPrefix(name, "/"))] = h
}

func (d *Dispatcher) OnFreeText(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeText = h
}

func (d *Dispatcher) OnSelection(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection = h
}

// Dispatch queues ev on its identity's lane.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if l, ok := d.lanes[ev.From]; ok {
		l.queue = append(l.queue, ev)
		d.mu.Unlock()
		return
	}
	l := &lane{queue: []Event{ev}}
	d.lanes[ev.From] = l
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(ctx, ev.From, l)
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, id domain.UserID, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, id)
			d.mu.Unlock()
			return
		}
		ev := l.queue[0]
		l.queue = l.queue[1:]
		handler := d.route(ev)
		d.mu.Unlock()

		if handler == nil {
			d.logger.Debug().Int64("owner", int64(ev.From)).Str("kind", ev.Kind.String()).Msg("no handler for event")
			continue
		}
		d.invoke(ctx, handler, ev)
	}
}

func (d *Dispatcher) route(ev Event) Handler {
	switch ev.Kind {
	case CommandEvent:
		if h, ok := d.commands[strings.ToLower(ev.Command)]; ok {
			return h
		}
		return d.commands[AnyCommand]
	case TextEvent:
		return d.freeText
	case SelectionEvent:
		return d.selection
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Int64("owner", int64(ev.From)).
				Str("kind", ev.Kind.String()).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()
	h(ctx, ev)
}
