package bot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/core/state"
	"github.com/vietddude/warden/internal/health"
	"github.com/vietddude/warden/internal/infra/storage/memory"
)

const ownerID = 1001

type captureReplier struct {
	mu      sync.Mutex
	replies []domain.Reply
	err     error
}

func (c *captureReplier) Send(_ context.Context, r domain.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.replies = append(c.replies, r)
	return nil
}

func (c *captureReplier) all() []domain.Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Reply(nil), c.replies...)
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) MarkActivity() { c.inc() }
func (c *counter) NoteActivity() { c.inc() }

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fixedStatus struct{ report health.StatusReport }

func (f fixedStatus) Status(context.Context) health.StatusReport { return f.report }

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	bot      *Bot
	replier  *captureReplier
	activity *counter
	notes    *counter
	store    *state.Store
	logs     *safeBuffer
	inbound  chan domain.Message
	clock    *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logs := &safeBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	store := state.NewStore(memory.NewMemoryStorage(), state.WithLogger(logger))
	require.NoError(t, store.Load(context.Background()))

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))

	f := &fixture{
		replier:  &captureReplier{},
		activity: &counter{},
		notes:    &counter{},
		store:    store,
		logs:     logs,
		inbound:  make(chan domain.Message, 4),
		clock:    mock,
	}
	f.bot = New(Config{OwnerIDs: []int64{ownerID}}, Deps{
		Inbound:  f.inbound,
		Sender:   f.replier,
		Status:   fixedStatus{report: sampleReport()},
		Activity: f.activity,
		Notes:    f.notes,
		State:    store,
		Logger:   logger,
		Clock:    mock,
	})
	return f
}

func sampleReport() health.StatusReport {
	return health.StatusReport{
		Status:                  health.StatusHealthy,
		Supervisor:              domain.SupervisorState{Phase: domain.PhaseStable, RestartAttempts: 2},
		MaxRestartAttempts:      5,
		SecondsSinceHealthCheck: 42,
		Process:                 health.ProcessStats{PID: 4242, UptimeSeconds: 3725, HeapAllocBytes: 12 * 1024 * 1024},
	}
}

func TestBot_RecoveryCommandForOwner(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"recovery", "restartstatus", "botstatus"} {
		f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: ownerID, Text: "/" + name, Command: name})
	}

	replies := f.replier.all()
	require.Len(t, replies, 3)
	for _, r := range replies {
		assert.Equal(t, "Markdown", r.ParseMode)
		assert.Contains(t, r.Text, "Uptime: `1h 2m 5s`")
		assert.Contains(t, r.Text, "Memory Usage: `12MB`")
		assert.Contains(t, r.Text, "Process ID: `4242`")
		assert.Contains(t, r.Text, "Total Restarts: `2`")
		assert.Contains(t, r.Text, "Max Restart Limit: `5`")
		assert.Contains(t, r.Text, "Recovery Status: `STABLE`")
		assert.Contains(t, r.Text, "Last Health Check: `42s ago`")
	}
	assert.Equal(t, 3, f.activity.get())
}

func TestBot_RecoveryCommandRejectsNonOwner(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, Text: "/recovery", Command: "recovery"})

	replies := f.replier.all()
	require.Len(t, replies, 1)
	assert.Equal(t, ownerOnlyText, replies[0].Text)
}

func TestBot_PingAndStart(t *testing.T) {
	f := newFixture(t)
	received := f.clock.Now()
	f.clock.Add(150 * time.Millisecond)

	f.bot.Handle(context.Background(), domain.Message{ID: 3, ChatID: 10, SenderID: 7, Command: "ping", ReceivedAt: received})
	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, SenderName: "ann", Command: "start"})

	replies := f.replier.all()
	require.Len(t, replies, 2)
	assert.Equal(t, "Pong! (150ms)", replies[0].Text)
	assert.Equal(t, 3, replies[0].ReplyTo)
	assert.Contains(t, replies[1].Text, "Hello ann!")
}

func TestBot_UnknownCommandAndPlainTextAreIgnored(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, Command: "play", Args: "faded"})
	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, Text: "hello"})

	assert.Empty(t, f.replier.all())
	assert.Equal(t, 2, f.activity.get(), "ignored messages still count as activity")
	assert.Equal(t, 2, f.notes.get())
}

func TestBot_RecordsUsersAndGroups(t *testing.T) {
	f := newFixture(t)

	f.bot.Handle(context.Background(), domain.Message{ChatID: -100123, SenderID: 7, SenderName: "ann", Text: "hi"})
	f.bot.Handle(context.Background(), domain.Message{ChatID: 7, SenderID: 7, SenderName: "ann", Text: "again"})

	snap := f.store.Snapshot()
	user := snap["users"].(map[string]any)["7"].(map[string]any)
	assert.Equal(t, "ann", user["name"])
	assert.Equal(t, float64(2), user["messages"])
	assert.Equal(t, "2026-05-01T10:00:00Z", user["last_seen"])
	assert.Contains(t, snap["groups"], "-100123")
}

func TestBot_HandlerErrorIsLoggedAndDescribed(t *testing.T) {
	f := newFixture(t)
	f.bot.Register(Command{
		Names: []string{"boom"},
		Handler: func(context.Context, domain.Message) (*domain.Reply, error) {
			return nil, errors.New("lookup failed: request timeout")
		},
	})

	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, Command: "boom"})

	replies := f.replier.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Request timed out")
	assert.NotContains(t, replies[0].Text, "lookup failed")

	assert.Contains(t, f.logs.String(), "Command failed")
	assert.Equal(t, 0, f.activity.get())
}

func TestBot_DeadlineExceededHandlerStaysLocal(t *testing.T) {
	f := newFixture(t)
	f.bot.Register(Command{
		Names: []string{"download"},
		Handler: func(context.Context, domain.Message) (*domain.Reply, error) {
			return nil, context.DeadlineExceeded
		},
	})

	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, Command: "download"})

	replies := f.replier.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Request timed out")
	assert.Contains(t, f.logs.String(), "Command failed")
	assert.Equal(t, 0, f.notes.get())
}

func TestBot_SendFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.replier.err = errors.New("EFATAL: socket hang up")

	f.bot.Handle(context.Background(), domain.Message{ChatID: 10, SenderID: 7, Command: "ping"})

	assert.Contains(t, f.logs.String(), "Failed to send reply")
	assert.Equal(t, 0, f.activity.get())
}

func TestBot_ServeStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Serve(ctx) }()

	f.inbound <- domain.Message{ChatID: 10, SenderID: 7, Command: "ping"}
	require.Eventually(t, func() bool { return len(f.replier.all()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
