package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatqueue/backend/command"
	"github.com/onnwee/chatqueue/backend/oauth"
	"github.com/onnwee/chatqueue/backend/queue"
	"github.com/onnwee/chatqueue/backend/telemetry"
)

// Ingester persists a parsed command. *queue.Ingestor implements it.
type Ingester interface {
	Ingest(ctx context.Context, author string, cmd command.Command) (queue.Result, error)
}

// ircClient is the subset of *twitch.Client the listener drives.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// Listener reads chat for one channel and ingests the commands it finds.
type Listener struct {
	Channel  string
	Username string
	// Token is the static chat token; when empty the stored "twitch" token is used.
	Token  string
	Tokens oauth.Store

	Ingester    Ingester
	KeepUnknown bool

	// ReconnectDelay is the base backoff after a dropped connection (doubles up to 1m).
	ReconnectDelay time.Duration

	newClient func(username, token string) ircClient
	log       *slog.Logger
}

// NewListener returns a Listener using go-twitch-irc.
func NewListener(channel, username, token string, tokens oauth.Store, in Ingester, keepUnknown bool) *Listener {
	return &Listener{
		Channel:        strings.TrimPrefix(strings.ToLower(channel), "#"),
		Username:       username,
		Token:          token,
		Tokens:         tokens,
		Ingester:       in,
		KeepUnknown:    keepUnknown,
		ReconnectDelay: 2 * time.Second,
		newClient: func(username, token string) ircClient {
			return twitch.NewClient(username, token)
		},
		log: slog.Default().With(slog.String("component", "chat")),
	}
}

// Run connects and reconnects until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.ReconnectDelay
	for {
		err := l.session(ctx)
		telemetry.SetChatConnected(false)
		if ctx.Err() != nil {
			l.log.Info("chat listener stopped")
			return nil
		}
		l.log.Warn("twitch chat disconnected; reconnecting", slog.Any("err", err), slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < time.Minute {
			delay *= 2
		}
	}
}

func (l *Listener) session(ctx context.Context) error {
	token, err := l.token(ctx)
	if err != nil {
		return err
	}
	client := l.newClient(l.Username, token)
	client.OnConnect(func() {
		telemetry.SetChatConnected(true)
		l.log.Info("connected to twitch chat", slog.String("channel", l.Channel))
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		l.HandleMessage(ctx, msg.User.Name, msg.Message)
	})

	// Handle context cancellation by closing the client
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		_ = client.Disconnect()
	}()

	client.Join(l.Channel)
	err = client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

func (l *Listener) token(ctx context.Context) (string, error) {
	tok := l.Token
	if tok == "" && l.Tokens != nil {
		stored, err := l.Tokens.LoadToken(ctx, oauth.ProviderTwitch)
		if err != nil {
			return "", fmt.Errorf("load twitch token: %w", err)
		}
		tok = stored.AccessToken
	}
	if tok == "" {
		return "", fmt.Errorf("twitch chat: %w", oauth.ErrNoToken)
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	return tok, nil
}

// HandleMessage parses one chat line from author and ingests it. It never
// returns an error; failures are counted and logged.
func (l *Listener) HandleMessage(ctx context.Context, author, text string) {
	parse := command.Parse
	if l.KeepUnknown {
		parse = command.ParseLenient
	}
	cmd, err := parse(text)
	if err != nil {
		telemetry.RecordParseFailure()
		l.log.Debug("ignoring chat message", slog.String("author", author), slog.Any("err", err))
		return
	}
	res, err := l.Ingester.Ingest(ctx, author, cmd)
	if err != nil {
		telemetry.RecordIngest(cmd.Kind.Name(), "error")
		l.log.Error("failed to ingest chat command", slog.String("author", author), slog.String("command", cmd.Kind.Name()), slog.Any("err", err))
		return
	}
	telemetry.RecordIngest(cmd.Kind.Name(), res.Outcome.String())
	if res.Outcome == queue.OutcomeInserted {
		l.log.Info("queued chat command",
			slog.String("author", author),
			slog.String("command", cmd.Kind.Name()),
			slog.String("message_id", res.ID.String()),
			slog.String("status", res.Status.String()))
	}
}
