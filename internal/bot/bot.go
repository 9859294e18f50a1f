package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"fare-alerts/internal/access"
	"fare-alerts/internal/conversation"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
	"fare-alerts/internal/messenger"
	"fare-alerts/internal/offers"
	"fare-alerts/internal/service"
	"fare-alerts/internal/storage"
)

// Checker runs an on-demand evaluation of one owner's alerts.
type Checker interface {
	CheckOwner(ctx context.Context, owner domain.UserID) ([]service.CheckResult, error)
}

// Deps are the collaborators of the bot surface.
type Deps struct {
	Sender       messenger.Sender
	Registry     storage.Registry
	Gate         *access.Gate
	Conversation *conversation.Engine
	Checker      Checker
	Catalog      *domain.Catalog
	Currency     string
}

// Bot translates inbound chat events into registry, conversation and check operations.
type Bot struct {
	Deps
	logger zerolog.Logger
}

// New constructs the bot surface.
func New(deps Deps, logger zerolog.Logger) *Bot {
	return &Bot{Deps: deps, logger: logging.Component(logger, "bot")}
}

// Register installs every handler on m.
func (b *Bot) Register(m messenger.Messenger) {
	for name, handler := range b.commands() {
		m.OnCommand(name, handler)
	}
	m.OnFreeText(b.handleText)
	m.OnSelection(b.handleSelection)
}

func (b *Bot) commands() map[string]messenger.Handler {
	return map[string]messenger.Handler{
		"start":              b.handleStart,
		"help":               b.handleHelp,
		"newalert":           b.handleNewAlert,
		"alerts":             b.handleAlerts,
		"remove":             b.handleRemove,
		"check":              b.handleCheck,
		"cancel":             b.handleCancel,
		"pending":            b.handlePending,
		"approve":            b.handleApprove,
		"deny":               b.handleDeny,
		messenger.AnyCommand: b.handleUnknown,
	}
}

func (b *Bot) reply(ctx context.Context, to domain.UserID, text string, opts ...messenger.SendOption) {
	if err := b.Sender.SendMessage(ctx, to, text, opts...); err != nil {
		b.logger.Warn().Err(err).Int64("owner", int64(to)).Msg("failed to send reply")
	}
}

// requireAccess lets Allowed identities through and answers everyone else.
// Unknown identities are registered on the spot.
func (b *Bot) requireAccess(ctx context.Context, ev messenger.Event) bool {
	decision, err := b.Gate.Authorize(ctx, ev.From)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", int64(ev.From)).Msg("authorize failed")
		b.reply(ctx, ev.From, b.errorMessage(err))
		return false
	}
	switch decision {
	case access.Allowed:
		return true
	case access.Unknown:
		b.register(ctx, ev)
		return false
	default:
		b.reply(ctx, ev.From, b.errorMessage(decision.Err()))
		return false
	}
}

// register records first contact and answers with the resulting status.
func (b *Bot) register(ctx context.Context, ev messenger.Event) {
	result, err := b.Registry.Register(ctx, ev.From, ev.DisplayName)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", int64(ev.From)).Msg("register failed")
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}

	b.logger.Info().Int64("owner", int64(ev.From)).Str("result", string(result)).Msg("registration")
	switch result {
	case domain.RegisteredNew:
		b.reply(ctx, ev.From, "Welcome! Your access request was sent to the administrator. I will let you know once it is approved.")
		b.notifyAdmin(ctx, ev)
	case domain.RegisteredPending:
		b.reply(ctx, ev.From, b.errorMessage(access.ErrPending))
	case domain.RegisteredDenied:
		b.reply(ctx, ev.From, b.errorMessage(access.ErrDenied))
	case domain.RegisteredApproved:
		b.reply(ctx, ev.From, "Welcome to the fare alert bot.\n\n"+b.helpFor(ev.From))
	}
}

func (b *Bot) notifyAdmin(ctx context.Context, ev messenger.Event) {
	admin := b.Gate.Admin()
	if admin == 0 {
		return
	}
	name := ev.DisplayName
	if name == "" {
		name = "unnamed user"
	}
	text := fmt.Sprintf("New access request from %s (id %d).", name, ev.From)
	b.reply(ctx, admin, text, messenger.WithChoices(
		messenger.Choice{Label: "Approve", Data: fmt.Sprintf("%s%d", prefixApprove, ev.From)},
		messenger.Choice{Label: "Deny", Data: fmt.Sprintf("%s%d", prefixDeny, ev.From)},
	))
}

func (b *Bot) helpFor(id domain.UserID) string {
	if b.Gate.IsAdmin(id) {
		return HelpText + "\n" + AdminHelpText
	}
	return HelpText
}

// errorMessage maps domain errors to user-facing text.
func (b *Bot) errorMessage(err error) string {
	var verr *conversation.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Reason
	case errors.Is(err, access.ErrUnregistered):
		return "Please send /start to request access first."
	case errors.Is(err, access.ErrPending):
		return "Your access request is still waiting for the administrator's approval."
	case errors.Is(err, access.ErrDenied):
		return "Your access request was denied by the administrator."
	case errors.Is(err, conversation.ErrNoSession):
		return "There is no alert being created. Send /newalert to start."
	case errors.Is(err, storage.ErrOutOfRange):
		return "There is no alert with that number. Use /alerts to see your list."
	case errors.Is(err, domain.ErrNotFound):
		return "That item no longer exists."
	case errors.Is(err, storage.ErrStorage):
		return "I could not save that right now. Please try again."
	case errors.Is(err, offers.ErrTimeout):
		return "The fare search took too long. Please try again later."
	case errors.Is(err, offers.ErrUnauthorized):
		return "The fare search is not available right now. The administrator needs to check the provider settings."
	case errors.Is(err, offers.ErrUnavailable):
		return "The fare search is unavailable right now. Please try again later."
	}

	b.logger.Warn().Err(err).Msg("unhandled error")
	return "Something went wrong. Please try again."
}

func conversationOptions(reply conversation.Reply) []messenger.SendOption {
	if len(reply.Choices) == 0 {
		return nil
	}
	choices := make([]messenger.Choice, 0, len(reply.Choices))
	for _, c := range reply.Choices {
		choices = append(choices, messenger.Choice{Label: c.Label, Data: prefixConversation + c.Value})
	}
	return []messenger.SendOption{messenger.WithChoices(choices...)}
}
