// Package discord implements the transport Adapter for Discord using the
// Gateway WebSocket. Contacts are Discord user IDs; messages are delivered
// over DM channels. Discord has no call primitive, so RejectCall reports
// transport.ErrUnsupported.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/switchboard/internal/phone"
	"github.com/zulandar/switchboard/internal/transport"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for rate-limit retries.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return r.s.User(userID, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}

// Adapter implements transport.Adapter for Discord.
type Adapter struct {
	sess          session
	botToken      string
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	handlersWired bool
	inbound       chan transport.Event
	removeRecv    func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	a := &Adapter{
		botToken:    opts.BotToken,
		inbound:     make(chan transport.Event, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection and wires
// lifecycle events into the inbound channel. After a gateway disconnect
// the adapter is marked disconnected again, so a later Connect re-opens
// the websocket; the handlers are only wired once.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	if !a.handlersWired {
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			a.mu.Lock()
			a.botUserID = r.User.ID
			a.mu.Unlock()
			a.emit(transport.Event{Kind: transport.EventReady})
		})
		a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
			a.mu.Lock()
			a.connected = false
			a.mu.Unlock()
			a.emit(transport.Event{Kind: transport.EventDisconnected, Reason: "gateway disconnect"})
		})
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
			a.emit(transport.Event{Kind: transport.EventReady})
		})
		a.handlersWired = true
	}

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns the inbound event channel and registers the message
// handler. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan transport.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeRecv = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	return a.inbound, nil
}

// SendMessage delivers text to a Discord user via their DM channel.
// contactID accepts either a raw user ID or the canonical suffixed form.
func (a *Adapter) SendMessage(ctx context.Context, contactID, text string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	userID := strings.TrimSuffix(contactID, phone.Suffix)
	var channelID string
	err := a.retryOnRateLimit(ctx, func() error {
		ch, apiErr := a.sess.UserChannelCreate(userID)
		if apiErr != nil {
			return apiErr
		}
		channelID = ch.ID
		return nil
	})
	if err != nil {
		return fmt.Errorf("discord: open dm channel for %s: %w", userID, err)
	}

	err = a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSend(channelID, text)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// IsRegisteredUser reports whether contactID resolves to a Discord user.
func (a *Adapter) IsRegisteredUser(ctx context.Context, contactID string) (bool, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return false, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	userID := strings.TrimSuffix(contactID, phone.Suffix)
	var found bool
	err := a.retryOnRateLimit(ctx, func() error {
		u, apiErr := a.sess.User(userID)
		if apiErr != nil {
			if restErr, ok := apiErr.(*discordgo.RESTError); ok &&
				restErr.Response != nil && restErr.Response.StatusCode == 404 {
				found = false
				return nil
			}
			return apiErr
		}
		found = u != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("discord: user lookup %s: %w", userID, err)
	}
	return found, nil
}

// RejectCall is not expressible on Discord.
func (a *Adapter) RejectCall(ctx context.Context, callID string) error {
	return transport.ErrUnsupported
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeRecv != nil {
		a.removeRecv()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// handleMessage converts a Discord message event to a transport Event.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	a.emit(transport.Event{
		Kind:      transport.EventMessage,
		From:      phone.ContactID(m.Author.ID),
		Body:      m.Content,
		Timestamp: ts,
	})
}

// emit delivers an event without blocking the discordgo callback goroutine.
func (a *Adapter) emit(evt transport.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case a.inbound <- evt:
	default:
		log.Printf("discord: inbound channel full, dropping %s event", evt.Kind)
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on
// Discord rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
