// Package bot turns inbound messages into command replies.
package bot

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/benbjohnson/clock"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/metrics"
)

// ActivityRecorder is told about every successfully processed message.
type ActivityRecorder interface {
	MarkActivity()
}

// ActivityNoter resets restart bookkeeping after successful activity.
type ActivityNoter interface {
	NoteActivity()
}

// StateUpdater mutates the persisted state.
type StateUpdater interface {
	Update(fn func(domain.PersistedState) error) error
}

// Config configures the bot.
type Config struct {
	OwnerIDs []int64
}

// Deps are the bot's collaborators.
type Deps struct {
	Inbound  <-chan domain.Message
	Sender   Replier
	Status   StatusProvider
	Activity ActivityRecorder
	Notes    ActivityNoter
	State    StateUpdater
	Logger   *slog.Logger
	Clock    clock.Clock
}

// Bot dispatches inbound messages to commands.
type Bot struct {
	cfg      Config
	inbound  <-chan domain.Message
	sender   Replier
	status   StatusProvider
	activity ActivityRecorder
	notes    ActivityNoter
	state    StateUpdater
	logger   *slog.Logger
	clock    clock.Clock

	owners   map[int64]struct{}
	commands map[string]Command
}

// New creates a bot with the default commands registered.
func New(cfg Config, deps Deps) *Bot {
	b := &Bot{
		cfg:      cfg,
		inbound:  deps.Inbound,
		sender:   deps.Sender,
		status:   deps.Status,
		activity: deps.Activity,
		notes:    deps.Notes,
		state:    deps.State,
		logger:   deps.Logger,
		clock:    deps.Clock,
		owners:   make(map[int64]struct{}, len(cfg.OwnerIDs)),
		commands: make(map[string]Command),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.clock == nil {
		b.clock = clock.New()
	}
	for _, id := range cfg.OwnerIDs {
		b.owners[id] = struct{}{}
	}
	b.registerDefaults()
	return b
}

// Register adds a command under each of its names.
func (b *Bot) Register(cmd Command) {
	for _, name := range cmd.Names {
		b.commands[name] = cmd
	}
}

// IsOwner reports whether userID may use owner-only commands.
func (b *Bot) IsOwner(userID int64) bool {
	_, ok := b.owners[userID]
	return ok
}

// Serve processes inbound messages until ctx is cancelled.
func (b *Bot) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.inbound:
			if !ok {
				return nil
			}
			b.Handle(ctx, msg)
		}
	}
}

func (b *Bot) String() string {
	return "bot-dispatcher"
}

// Handle processes one message. Handler and send failures are local: they
// are logged, and handler failures are answered with a user-facing
// description. Transport failures reach the supervisor through the
// connection's own event stream.
func (b *Bot) Handle(ctx context.Context, msg domain.Message) {
	if err := b.recordSender(msg); err != nil {
		b.logger.Warn("Failed to record sender", "chat_id", msg.ChatID, "error", err)
	}

	reply, err := b.dispatch(ctx, msg)
	if err != nil {
		metrics.MessagesProcessedTotal.WithLabelValues("error").Inc()
		b.logger.Error("Command failed", "command", msg.Command, "chat_id", msg.ChatID, "error", err)
		reply = &domain.Reply{ChatID: msg.ChatID, Text: DescribeFailure(err).String(), ReplyTo: msg.ID}
	}

	if reply != nil {
		if sendErr := b.sender.Send(ctx, *reply); sendErr != nil {
			metrics.MessagesProcessedTotal.WithLabelValues("send_error").Inc()
			b.logger.Error("Failed to send reply", "chat_id", reply.ChatID, "error", sendErr)
			return
		}
	}
	if err != nil {
		return
	}

	metrics.MessagesProcessedTotal.WithLabelValues("ok").Inc()
	if b.activity != nil {
		b.activity.MarkActivity()
	}
	if b.notes != nil {
		b.notes.NoteActivity()
	}
}

func (b *Bot) dispatch(ctx context.Context, msg domain.Message) (*domain.Reply, error) {
	if !msg.IsCommand() {
		return nil, nil
	}
	cmd, ok := b.commands[msg.Command]
	if !ok {
		b.logger.Debug("Ignoring unknown command", "command", msg.Command)
		return nil, nil
	}
	if cmd.OwnerOnly && !b.IsOwner(msg.SenderID) {
		return &domain.Reply{ChatID: msg.ChatID, Text: ownerOnlyText}, nil
	}
	return cmd.Handler(ctx, msg)
}

// recordSender keeps the users and groups collections current.
func (b *Bot) recordSender(msg domain.Message) error {
	if b.state == nil || msg.SenderID == 0 {
		return nil
	}
	seen := b.clock.Now().UTC().Format("2006-01-02T15:04:05Z")
	return b.state.Update(func(st domain.PersistedState) error {
		users := st.Collection("users")
		key := strconv.FormatInt(msg.SenderID, 10)
		user, _ := users[key].(map[string]any)
		if user == nil {
			user = map[string]any{}
			users[key] = user
		}
		user["name"] = msg.SenderName
		user["last_seen"] = seen
		user["messages"] = toFloat(user["messages"]) + 1

		if msg.ChatID < 0 {
			groups := st.Collection("groups")
			gkey := strconv.FormatInt(msg.ChatID, 10)
			group, _ := groups[gkey].(map[string]any)
			if group == nil {
				group = map[string]any{}
				groups[gkey] = group
			}
			group["last_seen"] = seen
		}
		return nil
	})
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

