package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

const slackMessageLimit = 3900

var slackMentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// SlackAdapter implements GatewayAdapter for Slack using Socket Mode.
// Every Slack thread is its own orchestrator thread.
type SlackAdapter struct {
	client  *slack.Client
	socket  *socketmode.Client
	handler MessageHandler

	mu          sync.RWMutex
	botUserID   string
	botName     string
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client: client,
		socket: socket,
		logger: logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect verifies the bot token and starts the Socket Mode event loop in
// a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("auth test: %v", err)
		a.mu.Unlock()
		return fmt.Errorf("slack auth: %w", err)
	}

	a.mu.Lock()
	a.botUserID = auth.UserID
	a.botName = auth.User
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
			a.mu.Lock()
			a.connected = false
			a.lastError = err.Error()
			a.mu.Unlock()
		}
	}()
	a.logger.Info("slack adapter connected via socket mode",
		zap.String("bot", auth.User), zap.String("team", auth.Team))
	return nil
}

// handleEvents processes incoming Socket Mode events.
func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type == slackevents.CallbackEvent {
			switch inner := eventsAPI.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				// Ignore bot messages and edits to avoid loops
				if inner.BotID != "" || inner.SubType != "" {
					return
				}
				a.handleSlackMessage(inner)
			}
		}
	case socketmode.EventTypeConnectionError:
		a.mu.Lock()
		a.connected = false
		a.lastError = fmt.Sprint(evt.Data)
		a.mu.Unlock()
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.connected = true
		a.lastError = ""
		a.mu.Unlock()
	}
}

func (a *SlackAdapter) handleSlackMessage(ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}
	text := strings.TrimSpace(slackMentionRe.ReplaceAllString(ev.Text, ""))
	if text == "" {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	// Tasks can run for minutes; keep the socket loop free.
	go a.handler(&InboundMessage{
		Platform:     "slack",
		ChannelID:    ev.Channel,
		UserID:       ev.User,
		UserName:     ev.User,
		Content:      text,
		Timestamp:    time.Now(),
		ReplyTo:      threadTS,
		Conversation: threadTS,
	})
}

// Send posts a message to a Slack channel, in the originating thread when
// ReplyTo is set. Long messages are split.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	for _, part := range splitMessage(msg.Content, slackMessageLimit) {
		opts := []slack.MsgOption{
			slack.MsgOptionText(part, false),
		}
		if msg.ReplyTo != "" {
			opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
		}
		if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
			a.logger.Error("slack send failed",
				zap.String("channel", msg.ChannelID), zap.Error(err))
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "slack",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s (%s)", a.botName, a.botUserID)
	}
	return s
}
