// Package telegram implements the connection transport over the Telegram
// Bot API using long polling.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vietddude/warden/internal/core/domain"
	"github.com/vietddude/warden/internal/infra/transport"
)

const (
	defaultPollTimeout   = 30 * time.Second
	defaultPollRetryWait = 3 * time.Second
	eventBuffer          = 64
)

var setLoggerOnce sync.Once

// Option configures the transport.
type Option func(*Transport)

// WithEndpoint overrides the Bot API endpoint format
// (default tgbotapi.APIEndpoint).
func WithEndpoint(endpoint string) Option {
	return func(t *Transport) { t.endpoint = endpoint }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithPollRetryWait sets the pause after a failed getUpdates call.
func WithPollRetryWait(d time.Duration) Option {
	return func(t *Transport) { t.pollRetryWait = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// Transport connects to the Telegram Bot API.
type Transport struct {
	endpoint      string
	client        *http.Client
	pollRetryWait time.Duration
	logger        *slog.Logger
}

// New creates a Telegram transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		endpoint:      tgbotapi.APIEndpoint,
		client:        &http.Client{},
		pollRetryWait: defaultPollRetryWait,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	setLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(botLogger{logger: t.logger})
	})
	return t
}

// Connect authenticates with getMe and optionally starts long polling.
func (t *Transport) Connect(ctx context.Context, creds transport.Credentials, opts transport.Options) (transport.Handle, error) {
	if creds.Token == "" {
		return nil, &transport.Error{Code: transport.CodePlatform, Op: "getMe", Err: errors.New("empty bot token")}
	}

	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	client := &ctxClient{ctx: lifeCtx, client: t.client}

	type result struct {
		bot *tgbotapi.BotAPI
		err error
	}
	ch := make(chan result, 1)
	go func() {
		bot, err := tgbotapi.NewBotAPIWithClient(creds.Token, t.endpoint, client)
		ch <- result{bot: bot, err: err}
	}()

	var bot *tgbotapi.BotAPI
	select {
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("getMe: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			cancel()
			return nil, wrapError("getMe", r.err)
		}
		bot = r.bot
	}

	h := &handle{
		bot:         bot,
		ctx:         lifeCtx,
		cancel:      cancel,
		events:      make(chan transport.Event, eventBuffer),
		done:        make(chan struct{}),
		pollTimeout: pollTimeout,
		retryWait:   t.pollRetryWait,
		logger:      t.logger,
		identity: domain.Identity{
			ID:        bot.Self.ID,
			Username:  bot.Self.UserName,
			FirstName: bot.Self.FirstName,
		},
	}

	if opts.Streaming {
		go h.poll()
	} else {
		go func() {
			<-lifeCtx.Done()
			close(h.events)
			close(h.done)
		}()
	}
	return h, nil
}

// wrapError attaches a transport code. Error responses from the API are
// platform errors; undecodable responses are parse errors; everything
// else failed below the API.
func wrapError(op string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &transport.Error{Code: transport.CodePlatform, Op: op, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &transport.Error{Code: transport.CodeParse, Op: op, Err: err}
	}
	return &transport.Error{Code: transport.CodeFatal, Op: op, Err: err}
}

// ctxClient binds every request to the handle's lifetime so StopStreaming
// aborts an in-flight long poll.
type ctxClient struct {
	ctx    context.Context
	client *http.Client
}

func (c *ctxClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

type botLogger struct {
	logger *slog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug("telegram", "msg", fmt.Sprint(v...))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug("telegram", "msg", fmt.Sprintf(format, v...))
}
