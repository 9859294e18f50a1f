package bot

import (
	"context"
	"fmt"
	"strings"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/messenger"
)

func (b *Bot) requireAdmin(ctx context.Context, ev messenger.Event) bool {
	if b.Gate.IsAdmin(ev.From) {
		return true
	}
	b.logger.Warn().Int64("owner", int64(ev.From)).Str("command", ev.Command).Msg("admin command from non-admin")
	b.reply(ctx, ev.From, "Only the administrator can do that.")
	return false
}

func (b *Bot) handlePending(ctx context.Context, ev messenger.Event) {
	if !b.requireAdmin(ctx, ev) {
		return
	}
	pending, err := b.Registry.ListPending(ctx)
	if err != nil {
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}
	if len(pending) == 0 {
		b.reply(ctx, ev.From, "No pending access requests.")
		return
	}

	var builder strings.Builder
	builder.WriteString("Pending access requests:\n")
	choices := make([]messenger.Choice, 0, len(pending)*2)
	for _, p := range pending {
		name := p.DisplayName
		if name == "" {
			name = "unnamed user"
		}
		builder.WriteString(fmt.Sprintf("%d: %s, since %s\n", p.ID, name, p.RequestedAt.UTC().Format("02/01/2006 15:04")))
		choices = append(choices,
			messenger.Choice{Label: fmt.Sprintf("Approve %s", name), Data: fmt.Sprintf("%s%d", prefixApprove, p.ID)},
			messenger.Choice{Label: fmt.Sprintf("Deny %s", name), Data: fmt.Sprintf("%s%d", prefixDeny, p.ID)},
		)
	}
	b.reply(ctx, ev.From, strings.TrimRight(builder.String(), "\n"), messenger.WithChoices(choices...))
}

func (b *Bot) handleApprove(ctx context.Context, ev messenger.Event) {
	b.decide(ctx, ev, ev.Args, true)
}

func (b *Bot) handleDeny(ctx context.Context, ev messenger.Event) {
	b.decide(ctx, ev, ev.Args, false)
}

func (b *Bot) decide(ctx context.Context, ev messenger.Event, rawID string, approve bool) {
	if !b.requireAdmin(ctx, ev) {
		return
	}
	id, err := ParseIdentity(rawID)
	if err != nil {
		b.reply(ctx, ev.From, "Usage: /approve <id> or /deny <id>")
		return
	}
	if b.Gate.IsAdmin(id) {
		b.reply(ctx, ev.From, "The administrator is always approved.")
		return
	}

	var approval domain.UserApproval
	if approve {
		approval, err = b.Registry.Approve(ctx, id)
	} else {
		approval, err = b.Registry.Deny(ctx, id)
	}
	if err != nil {
		b.logger.Warn().Err(err).Int64("target", int64(id)).Bool("approve", approve).Msg("access decision failed")
		b.reply(ctx, ev.From, b.errorMessage(err))
		return
	}

	b.logger.Info().Int64("target", int64(id)).Str("status", string(approval.Status)).Msg("access decided")
	name := approval.DisplayName
	if name == "" {
		name = fmt.Sprintf("id %d", id)
	}
	if approve {
		b.reply(ctx, ev.From, fmt.Sprintf("Approved %s.", name))
		b.reply(ctx, id, "Your access was approved! Send /newalert to create your first fare alert.\n\n"+HelpText)
		return
	}
	b.reply(ctx, ev.From, fmt.Sprintf("Denied %s.", name))
	b.reply(ctx, id, "Your access request was denied by the administrator.")
}
