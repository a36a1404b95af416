// Package slack implements the transport Adapter for Slack using Socket
// Mode. Contacts are Slack user IDs; messages are delivered over DM
// conversations. Slack exposes no call-control primitive over the Events
// API, so RejectCall reports transport.ErrUnsupported.
package slack

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/zulandar/switchboard/internal/phone"
	"github.com/zulandar/switchboard/internal/transport"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements transport.Adapter for Slack Socket Mode.
type Adapter struct {
	client    slackClient
	socket    socketClient
	appToken  string
	botToken  string
	botUserID string
	mu        sync.Mutex
	connected bool
	closed    bool
	running   bool // socket mode run loop is live
	inbound   chan transport.Event
	runCtx    context.Context
	cancel    context.CancelFunc
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... app-level token for Socket Mode
	BotToken string // xoxb-... bot token
	// For testing: inject mock clients instead of the real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	a := &Adapter{
		appToken: opts.AppToken,
		botToken: opts.BotToken,
		inbound:  make(chan transport.Event, 100),
	}
	if opts.Client != nil {
		a.client = opts.Client
	}
	if opts.Socket != nil {
		a.socket = opts.Socket
	}
	return a, nil
}

// Connect verifies credentials and prepares the Socket Mode client. When
// the run loop has exited after a disconnect, Connect restarts it so a
// supervisor-driven reconnect actually re-establishes the session.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	resp, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = resp.UserID
	a.connected = true

	if a.runCtx != nil && !a.running {
		a.startRunLocked()
	}
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan transport.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.cancel = cancel

	a.startRunLocked()
	go a.pumpEvents(runCtx)

	return a.inbound, nil
}

// startRunLocked launches the Socket Mode run loop. When it exits the
// adapter is marked disconnected so the next Connect restarts it. The
// event pump is started once in Listen and survives run-loop restarts.
// Callers must hold a.mu.
func (a *Adapter) startRunLocked() {
	a.running = true
	go func() {
		err := a.socket.Run()
		a.mu.Lock()
		a.running = false
		a.connected = false
		closed := a.closed
		a.mu.Unlock()
		if err != nil && !closed {
			log.Printf("slack: socket mode run: %v", err)
			a.emit(transport.Event{Kind: transport.EventDisconnected, Reason: err.Error()})
		}
	}()
}

// pumpEvents translates Socket Mode events into transport events.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		// Observational; the supervisor owns the connecting transition.
	case socketmode.EventTypeConnected:
		a.emit(transport.Event{Kind: transport.EventReady})
	case socketmode.EventTypeDisconnect:
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		a.emit(transport.Event{Kind: transport.EventDisconnected, Reason: "socket mode disconnect"})
	case socketmode.EventTypeInvalidAuth:
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
		a.emit(transport.Event{Kind: transport.EventAuthFailure, Reason: "invalid auth"})
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(apiEvent)
	}
}

func (a *Adapter) handleEventsAPI(apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Ignore our own messages and message edits/bot posts.
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if inner.User == "" || inner.User == botID || inner.BotID != "" {
		return
	}

	a.emit(transport.Event{
		Kind:      transport.EventMessage,
		From:      phone.ContactID(inner.User),
		Body:      inner.Text,
		Timestamp: parseSlackTS(inner.TimeStamp),
	})
}

// SendMessage posts text to the DM conversation with the contact.
func (a *Adapter) SendMessage(ctx context.Context, contactID, text string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	userID := strings.TrimSuffix(contactID, phone.Suffix)
	ch, _, _, err := a.client.OpenConversation(&slackapi.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return fmt.Errorf("slack: open conversation with %s: %w", userID, err)
	}
	if _, _, err := a.client.PostMessage(ch.ID, slackapi.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// IsRegisteredUser reports whether contactID resolves to a Slack user.
func (a *Adapter) IsRegisteredUser(ctx context.Context, contactID string) (bool, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return false, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	userID := strings.TrimSuffix(contactID, phone.Suffix)
	u, err := a.client.GetUserInfo(userID)
	if err != nil {
		if strings.Contains(err.Error(), "user_not_found") {
			return false, nil
		}
		return false, fmt.Errorf("slack: user lookup %s: %w", userID, err)
	}
	return u != nil && !u.Deleted, nil
}

// RejectCall is not expressible over the Slack Events API.
func (a *Adapter) RejectCall(ctx context.Context, callID string) error {
	return transport.ErrUnsupported
}

// Close gracefully shuts down the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// emit delivers an event without blocking the socket pump goroutine.
func (a *Adapter) emit(evt transport.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case a.inbound <- evt:
	default:
		log.Printf("slack: inbound channel full, dropping %s event", evt.Kind)
	}
}

// parseSlackTS converts a Slack "seconds.micros" timestamp to time.Time.
func parseSlackTS(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return time.Time{}
	}
	var sec int64
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return time.Time{}
		}
		sec = sec*10 + int64(c-'0')
	}
	return time.Unix(sec, 0)
}
