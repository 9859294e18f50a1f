package messenger

import (
	"context"

	"fare-alerts/internal/domain"
)

// Format selects how the transport should interpret message text.
type Format int

const (
	Plain Format = iota
	Markdown
	HTML
)

// Choice is one selectable button attached to a message.
type Choice struct {
	Label string
	Data  string
}

// SendOptions collects per-message settings.
type SendOptions struct {
	Format  Format
	Choices []Choice
}

// SendOption mutates SendOptions.
type SendOption func(*SendOptions)

// WithFormat sets the text format.
func WithFormat(f Format) SendOption {
	return func(o *SendOptions) { o.Format = f }
}

// WithChoices attaches selectable choices.
func WithChoices(choices ...Choice) SendOption {
	return func(o *SendOptions) { o.Choices = append(o.Choices, choices...) }
}

// ApplyOptions folds opts over the defaults.
func ApplyOptions(opts ...SendOption) SendOptions {
	var out SendOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// Sender delivers one outbound message to an identity.
type Sender interface {
	SendMessage(ctx context.Context, to domain.UserID, text string, opts ...SendOption) error
}

// EventKind classifies inbound events.
type EventKind int

const (
	CommandEvent EventKind = iota + 1
	TextEvent
	SelectionEvent
)

func (k EventKind) String() string {
	switch k {
	case CommandEvent:
		return "command"
	case TextEvent:
		return "text"
	case SelectionEvent:
		return "selection"
	default:
		return "unknown"
	}
}

// Event is one inbound user action, independent of the transport.
type Event struct {
	Kind        EventKind
	From        domain.UserID
	DisplayName string
	Command     string
	Args        string
	Text        string
	Data        string
}

// Handler processes one inbound event.
type Handler func(ctx context.Context, ev Event)

// AnyCommand registers the fallback for commands without a dedicated handler.
const AnyCommand = "*"

// Messenger is a bidirectional chat transport.
type Messenger interface {
	Sender
	OnCommand(name string, h Handler)
	OnFreeText(h Handler)
	OnSelection(h Handler)
	Start(ctx context.Context) error
}
