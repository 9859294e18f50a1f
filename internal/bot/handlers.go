package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fare-alerts/internal/alerting"
	"fare-alerts/internal/conversation"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/messenger"
)

func (b *Bot) handleStart(ctx context.Context, ev messenger.Event) {
	b.register(ctx, ev)
}

func (b *Bot) handleHelp(ctx context.Context, ev messenger.Event) {
	b.reply(ctx, ev.From, b.helpFor(ev.From))
}

func (b *Bot) handleUnknown(ctx context.Context, ev messenger.Event) {
	b.logger.Debug().Int64("owner", int64(ev.From)).Str("command", ev.Command).Msg("unknown command")
	b.reply(ctx, ev.From, "Unknown command.\n\n"+b.helpFor(ev.From))
}

func (b *Bot) handleNewAlert(ctx context.Context, ev messenger.Event) {
	if !b.requireAccess(ctx, ev) {
		return
	}
	reply, err := b.Conversation.Start(ctx, ev.From)
	if err != nil {
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}
	b.reply(ctx, ev.From, reply.Text, conversationOptions(reply)...)
}

func (b *Bot) handleCancel(ctx context.Context, ev messenger.Event) {
	reply := b.Conversation.Cancel(ev.From)
	b.reply(ctx, ev.From, reply.Text)
}

func (b *Bot) handleText(ctx context.Context, ev messenger.Event) {
	if !b.Conversation.Active(ev.From) {
		b.reply(ctx, ev.From, "Send /newalert to create an alert or /help to see what I can do.")
		return
	}
	b.converse(ctx, ev.From, ev.Text)
}

func (b *Bot) converse(ctx context.Context, owner domain.UserID, input string) {
	reply, err := b.Conversation.Handle(ctx, owner, input)
	if err != nil {
		if !errors.Is(err, conversation.ErrNoSession) {
			b.logger.Error().Err(err).Int64("owner", int64(owner)).Msg("conversation step failed")
		}
		b.reply(ctx, owner, b.errorMessage(err))
		return
	}
	b.reply(ctx, owner, reply.Text, conversationOptions(reply)...)
}

func (b *Bot) handleAlerts(ctx context.Context, ev messenger.Event) {
	if !b.requireAccess(ctx, ev) {
		return
	}
	b.listAlerts(ctx, ev.From)
}

func (b *Bot) listAlerts(ctx context.Context, owner domain.UserID) {
	alerts, err := b.Registry.ListActive(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", int64(owner)).Msg("list alerts failed")
		b.reply(ctx, owner, b.errorMessage(err))
		return
	}
	if len(alerts) == 0 {
		b.reply(ctx, owner, "You have no active alerts. Use /newalert to create one.")
		return
	}

	var builder strings.Builder
	builder.WriteString("Your alerts:\n")
	choices := make([]messenger.Choice, 0, len(alerts))
	for i, alert := range alerts {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, alert.Summary(b.Catalog, b.Currency)))
		choices = append(choices, messenger.Choice{
			Label: fmt.Sprintf("Remove #%d", i+1),
			Data:  prefixRemove + string(alert.ID),
		})
	}
	b.reply(ctx, owner, strings.TrimRight(builder.String(), "\n"), messenger.WithChoices(choices...))
}

func (b *Bot) handleRemove(ctx context.Context, ev messenger.Event) {
	if !b.requireAccess(ctx, ev) {
		return
	}
	if strings.TrimSpace(ev.Args) == "" {
		b.listAlerts(ctx, ev.From)
		return
	}
	position, err := ParsePosition(ev.Args)
	if err != nil {
		b.reply(ctx, ev.From, "Usage: /remove <n>, where n is the number shown by /alerts.")
		return
	}

	removed, err := b.Registry.RemoveAt(ctx, ev.From, position-1)
	if err != nil {
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}
	b.logger.Info().Int64("owner", int64(ev.From)).Str("alert_id", string(removed.ID)).Msg("alert removed")
	b.reply(ctx, ev.From, "Removed: "+removed.Summary(b.Catalog, b.Currency))
}

func (b *Bot) removeByID(ctx context.Context, ev messenger.Event, id domain.AlertID) {
	if !b.requireAccess(ctx, ev) {
		return
	}
	removed, err := b.Registry.Remove(ctx, ev.From, id)
	if errors.Is(err, domain.ErrNotFound) {
		b.reply(ctx, ev.From, "That alert was already removed.")
		return
	}
	if err != nil {
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}
	b.logger.Info().Int64("owner", int64(ev.From)).Str("alert_id", string(removed.ID)).Msg("alert removed")
	b.reply(ctx, ev.From, "Removed: "+removed.Summary(b.Catalog, b.Currency))
}

func (b *Bot) handleCheck(ctx context.Context, ev messenger.Event) {
	if !b.requireAccess(ctx, ev) {
		return
	}
	b.reply(ctx, ev.From, "Searching fares for your alerts, this can take a moment...")

	results, err := b.Checker.CheckOwner(ctx, ev.From)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", int64(ev.From)).Msg("manual check failed")
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}
	if len(results) == 0 {
		b.reply(ctx, ev.From, "You have no active alerts. Use /newalert to create one.")
		return
	}

	for i, result := range results {
		switch {
		case result.Err != nil:
			b.reply(ctx, ev.From, fmt.Sprintf("%d. %s\n%s", i+1, result.Alert.Summary(b.Catalog, b.Currency), b.errorMessage(result.Err)))
		case !result.Found():
			b.reply(ctx, ev.From, fmt.Sprintf("%d. %s\nNo offer found.", i+1, result.Alert.Summary(b.Catalog, b.Currency)))
		default:
			b.reply(ctx, ev.From, alerting.Render(result.Digest, b.Catalog, b.Currency))
		}
	}
}

func (b *Bot) handleSelection(ctx context.Context, ev messenger.Event) {
	data := ev.Data
	switch {
	case strings.HasPrefix(data, prefixConversation):
		if !b.Conversation.Active(ev.From) {
			b.reply(ctx, ev.From, "That menu has expired. Send /newalert to start again.")
			return
		}
		b.converse(ctx, ev.From, strings.TrimPrefix(data, prefixConversation))
	case strings.HasPrefix(data, prefixRemove):
		b.removeByID(ctx, ev, domain.AlertID(strings.TrimPrefix(data, prefixRemove)))
	case strings.HasPrefix(data, prefixApprove):
		b.decide(ctx, ev, strings.TrimPrefix(data, prefixApprove), true)
	case strings.HasPrefix(data, prefixDeny):
		b.decide(ctx, ev, strings.TrimPrefix(data, prefixDeny), false)
	default:
		b.logger.Debug().Int64("owner", int64(ev.From)).Str("data", data).Msg("unknown selection")
	}
}
