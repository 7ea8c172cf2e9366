package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/health"
)

// HandlerFunc answers one command. A nil reply sends nothing.
type HandlerFunc func(ctx context.Context, msg domain.Message) (*domain.Reply, error)

// Command is a registered bot command.
type Command struct {
	Names     []string
	Desc      string
	OwnerOnly bool
	Handler   HandlerFunc
}

// StatusProvider reports supervisor and process status.
type StatusProvider interface {
	Status(ctx context.Context) health.StatusReport
}

const ownerOnlyText = "Owner-Only Feature!"

func (b *Bot) registerDefaults() {
	b.Register(Command{
		Names:   []string{"start"},
		Desc:    "Greet the bot",
		Handler: b.handleStart,
	})
	b.Register(Command{
		Names:   []string{"ping"},
		Desc:    "Check that the bot responds",
		Handler: b.handlePing,
	})
	b.Register(Command{
		Names:     []string{"recovery", "restartstatus", "botstatus"},
		Desc:      "Show bot recovery system status (Owner Only)",
		OwnerOnly: true,
		Handler:   b.handleRecovery,
	})
}

func (b *Bot) handleStart(_ context.Context, msg domain.Message) (*domain.Reply, error) {
	name := msg.SenderName
	if name == "" {
		name = "there"
	}
	return &domain.Reply{
		ChatID: msg.ChatID,
		Text:   fmt.Sprintf("Hello %s! Send /ping to check that I'm alive.", name),
	}, nil
}

func (b *Bot) handlePing(_ context.Context, msg domain.Message) (*domain.Reply, error) {
	text := "Pong!"
	if !msg.ReceivedAt.IsZero() {
		latency := b.clock.Since(msg.ReceivedAt)
		if latency < 0 {
			latency = 0
		}
		text = fmt.Sprintf("Pong! (%s)", latency.Round(time.Millisecond))
	}
	return &domain.Reply{ChatID: msg.ChatID, Text: text, ReplyTo: msg.ID}, nil
}

func (b *Bot) handleRecovery(ctx context.Context, msg domain.Message) (*domain.Reply, error) {
	report := b.status.Status(ctx)
	return &domain.Reply{
		ChatID:    msg.ChatID,
		Text:      FormatRecoveryStatus(report),
		ParseMode: "Markdown",
	}, nil
}

// FormatRecoveryStatus renders the owner status message.
func FormatRecoveryStatus(r health.StatusReport) string {
	var sb strings.Builder
	sb.WriteString("*🔧 Bot Recovery System Status*\n\n")

	sb.WriteString("*System Information:*\n")
	fmt.Fprintf(&sb, "• Uptime: `%s`\n", formatUptime(r.Process.UptimeSeconds))
	fmt.Fprintf(&sb, "• Memory Usage: `%dMB`\n", int(r.Process.HeapMB()+0.5))
	fmt.Fprintf(&sb, "• Process ID: `%d`\n\n", r.Process.PID)

	sb.WriteString("*Recovery Metrics:*\n")
	fmt.Fprintf(&sb, "• Total Restarts: `%d`\n", r.Supervisor.RestartAttempts)
	fmt.Fprintf(&sb, "• Max Restart Limit: `%d`\n", r.MaxRestartAttempts)
	fmt.Fprintf(&sb, "• Recovery Status: `%s`\n", recoveryLabel(r.Supervisor))
	fmt.Fprintf(&sb, "• Last Health Check: `%ds ago`\n\n", r.SecondsSinceHealthCheck)

	sb.WriteString("*Recent Status:*\n")
	switch {
	case r.Supervisor.Phase == domain.PhaseGivenUp:
		sb.WriteString("⛔ Restart limit reached, manual intervention required")
	case r.Supervisor.IsRestarting:
		sb.WriteString("🔄 Currently restarting...")
	default:
		sb.WriteString("💚 System running normally")
	}
	return sb.String()
}

func recoveryLabel(s domain.SupervisorState) string {
	switch {
	case s.Phase == domain.PhaseGivenUp:
		return "GIVEN_UP"
	case s.IsRestarting:
		return "RESTARTING"
	default:
		return "STABLE"
	}
}

func formatUptime(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
