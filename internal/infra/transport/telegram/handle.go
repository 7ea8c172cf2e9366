package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/transport"
)

type handle struct {
	bot         *tgbotapi.BotAPI
	identity    domain.Identity
	ctx         context.Context
	cancel      context.CancelFunc
	events      chan transport.Event
	done        chan struct{}
	pollTimeout time.Duration
	retryWait   time.Duration
	logger      *slog.Logger
}

func (h *handle) Identity() domain.Identity {
	return h.identity
}

func (h *handle) Events() <-chan transport.Event {
	return h.events
}

func (h *handle) Send(ctx context.Context, reply domain.Reply) error {
	if h.ctx.Err() != nil {
		return transport.ErrNotConnected
	}
	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	msg.ParseMode = reply.ParseMode
	msg.ReplyToMessageID = reply.ReplyTo

	return h.call(ctx, "sendMessage", func() error {
		_, err := h.bot.Send(msg)
		return err
	})
}

func (h *handle) Probe(ctx context.Context) error {
	if h.ctx.Err() != nil {
		return transport.ErrNotConnected
	}
	return h.call(ctx, "getMe", func() error {
		_, err := h.bot.GetMe()
		return err
	})
}

// StopStreaming cancels the poll loop and waits for it to exit.
func (h *handle) StopStreaming(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop polling: %w", ctx.Err())
	}
}

// call runs fn and returns early when ctx ends. The library has no
// per-request context, so an abandoned request finishes in the background.
func (h *handle) call(ctx context.Context, op string, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case err := <-errCh:
		if err != nil {
			return wrapError(op, err)
		}
		return nil
	}
}

func (h *handle) poll() {
	defer close(h.done)
	defer close(h.events)

	offset := 0
	timeout := int(h.pollTimeout / time.Second)

	for h.ctx.Err() == nil {
		updates, err := h.bot.GetUpdates(tgbotapi.UpdateConfig{
			Offset:  offset,
			Timeout: timeout,
		})
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.emit(transport.Event{Kind: transport.EventPollingError, Err: wrapError("getUpdates", err)})
			select {
			case <-h.ctx.Done():
				return
			case <-time.After(h.retryWait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			h.emit(transport.Event{Kind: transport.EventMessage, Message: toMessage(u.Message)})
		}
	}
}

func (h *handle) emit(ev transport.Event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

func toMessage(m *tgbotapi.Message) domain.Message {
	msg := domain.Message{
		ID:         m.MessageID,
		Text:       m.Text,
		ReceivedAt: m.Time(),
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.From != nil {
		msg.SenderID = m.From.ID
		msg.SenderName = m.From.UserName
		if msg.SenderName == "" {
			msg.SenderName = m.From.FirstName
		}
	}
	if m.IsCommand() {
		msg.Command = m.Command()
		msg.Args = m.CommandArguments()
	}
	return msg
}
