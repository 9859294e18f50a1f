package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"fare-alerts/internal/domain"
	"fare-alerts/internal/logging"
	"fare-alerts/internal/messenger"
)

const choicesPerRow = 2

// Options configures the Telegram transport.
type Options struct {
	Token       string
	APIEndpoint string
	PollTimeout int
	Debug       bool
}

// Messenger is the Telegram long-polling transport.
type Messenger struct {
	*messenger.Dispatcher

	api         *tgbotapi.BotAPI
	pollTimeout int
	logger      zerolog.Logger
}

// New connects to the Bot API and verifies the token.
func New(opts Options, logger zerolog.Logger) (*Messenger, error) {
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	log := logging.Component(logger, "telegram")
	_ = tgbotapi.SetLogger(botLogger{log})

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(opts.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	api.Debug = opts.Debug

	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 60
	}

	log.Info().Str("bot", api.Self.UserName).Msg("telegram authorised")
	return &Messenger{
		Dispatcher:  messenger.NewDispatcher(logger),
		api:         api,
		pollTimeout: pollTimeout,
		logger:      log,
	}, nil
}

// SendMessage delivers text to the chat identified by to.
func (m *Messenger) SendMessage(ctx context.Context, to domain.UserID, text string, opts ...messenger.SendOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	options := messenger.ApplyOptions(opts...)

	msg := tgbotapi.NewMessage(int64(to), text)
	switch options.Format {
	case messenger.Markdown:
		msg.ParseMode = tgbotapi.ModeMarkdown
	case messenger.HTML:
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if len(options.Choices) > 0 {
		msg.ReplyMarkup = keyboard(options.Choices)
	}

	if _, err := m.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", to, err)
	}
	return nil
}

// Start long-polls for updates until ctx is cancelled, then drains queued events.
func (m *Messenger) Start(ctx context.Context) error {
	config := tgbotapi.NewUpdate(0)
	config.Timeout = m.pollTimeout
	updates := m.api.GetUpdatesChan(config)

	m.logger.Info().Int("poll_timeout", m.pollTimeout).Msg("telegram polling started")
	defer m.Dispatcher.Close()

	for {
		select {
		case <-ctx.Done():
			m.api.StopReceivingUpdates()
			m.logger.Info().Msg("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				m.answerCallback(update.CallbackQuery.ID)
			}
			ev, ok := eventFromUpdate(update)
			if !ok {
				continue
			}
			m.Dispatch(ctx, ev)
		}
	}
}

func (m *Messenger) answerCallback(id string) {
	if _, err := m.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		m.logger.Warn().Err(err).Msg("answer callback failed")
	}
}

func eventFromUpdate(update tgbotapi.Update) (messenger.Event, bool) {
	if cq := update.CallbackQuery; cq != nil {
		ev := messenger.Event{Kind: messenger.SelectionEvent, Data: cq.Data}
		switch {
		case cq.Message != nil && cq.Message.Chat != nil:
			ev.From = domain.UserID(cq.Message.Chat.ID)
		case cq.From != nil:
			ev.From = domain.UserID(cq.From.ID)
		default:
			return messenger.Event{}, false
		}
		ev.DisplayName = displayName(cq.From)
		return ev, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return messenger.Event{}, false
	}
	ev := messenger.Event{
		From:        domain.UserID(msg.Chat.ID),
		DisplayName: displayName(msg.From),
	}
	if msg.IsCommand() {
		ev.Kind = messenger.CommandEvent
		ev.Command = msg.Command()
		ev.Args = strings.TrimSpace(msg.CommandArguments())
		return ev, true
	}
	if strings.TrimSpace(msg.Text) == "" {
		return messenger.Event{}, false
	}
	ev.Kind = messenger.TextEvent
	ev.Text = msg.Text
	return ev, true
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func keyboard(choices []messenger.Choice) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, (len(choices)+choicesPerRow-1)/choicesPerRow)
	for start := 0; start < len(choices); start += choicesPerRow {
		end := start + choicesPerRow
		if end > len(choices) {
			end = len(choices)
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, end-start)
		for _, c := range choices[start:end] {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// botLogger routes the library's internal logging through zerolog.
type botLogger struct {
	logger zerolog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

var _ messenger.Messenger = (*Messenger)(nil)
