package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent messages
// and rejected calls, and allows simulating inbound events.
type MockAdapter struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan Event
	sent       []SentMessage
	rejected   []string
	registered map[string]bool

	// Injected errors for failure-path tests; set via the Set* helpers.
	sendErr     error
	registerErr error
	rejectErr   error
	connectErr  error

	registerCalls int
	connectCalls  int
}

// SentMessage is one recorded SendMessage call.
type SentMessage struct {
	ContactID string
	Text      string
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
// All contacts are unregistered until SetRegistered is called.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:    make(chan Event, 100),
		registered: make(map[string]bool),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if m.connectErr != nil {
		return m.connectErr
	}
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// SendMessage records the outbound message.
func (m *MockAdapter) SendMessage(ctx context.Context, contactID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.sent = append(m.sent, SentMessage{ContactID: contactID, Text: text})
	return nil
}

// IsRegisteredUser reports pre-configured registration state.
func (m *MockAdapter) IsRegisteredUser(ctx context.Context, contactID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls++
	if m.registerErr != nil {
		return false, m.registerErr
	}
	return m.registered[contactID], nil
}

// RejectCall records the rejected call reference.
func (m *MockAdapter) RejectCall(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectErr != nil {
		return m.rejectErr
	}
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.rejected = append(m.rejected, callID)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SetRegistered marks a contact as registered (or not) on the network.
func (m *MockAdapter) SetRegistered(contactID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[contactID] = ok
}

// SetSendErr makes subsequent SendMessage calls fail with err.
func (m *MockAdapter) SetSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetRegisterErr makes subsequent IsRegisteredUser calls fail with err.
func (m *MockAdapter) SetRegisterErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErr = err
}

// SetRejectErr makes subsequent RejectCall calls fail with err.
func (m *MockAdapter) SetRejectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectErr = err
}

// SetConnectErr makes subsequent Connect calls fail with err.
func (m *MockAdapter) SetConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SimulateEvent delivers an event as if it came from the platform.
func (m *MockAdapter) SimulateEvent(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.inbound <- evt
}

// Sent returns a copy of all recorded outbound messages.
func (m *MockAdapter) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recently sent message, if any.
func (m *MockAdapter) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// ConnectCount returns the number of Connect invocations.
func (m *MockAdapter) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// RegisterCount returns the number of IsRegisteredUser invocations.
func (m *MockAdapter) RegisterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerCalls
}

// Rejected returns a copy of all rejected call references.
func (m *MockAdapter) Rejected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.rejected))
	copy(out, m.rejected)
	return out
}
