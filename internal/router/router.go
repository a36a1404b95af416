// Package router classifies inbound chat-network events and applies the
// gateway's auto-reply and call-gating rules.
package router

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/hours"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/transport"
)

// outOfHoursNotice is sent to callers rejected outside business hours.
const outOfHoursNotice = "Fora do horário comercial."

// Rule is one compiled auto-reply rule. Rules are evaluated in declared
// order and are independent: several rules may fire for one message.
type Rule struct {
	Name      string
	Equals    []string       // case-insensitive exact matches (trimmed)
	Pattern   *regexp.Regexp // case-insensitive pattern, may be nil
	Responses []string       // one chosen at random at dispatch time
	Delay     time.Duration
}

// CompileRules builds Rules from configuration, compiling patterns
// case-insensitively.
func CompileRules(cfgs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		r := Rule{
			Name:      rc.Name,
			Equals:    rc.Equals,
			Responses: rc.Responses,
			Delay:     time.Duration(rc.DelaySec) * time.Second,
		}
		if rc.Pattern != "" {
			re, err := regexp.Compile("(?i)" + rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("router: rule %q: compile pattern: %w", rc.Name, err)
			}
			r.Pattern = re
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Matches reports whether the rule fires for the given message body.
func (r Rule) Matches(body string) bool {
	trimmed := strings.TrimSpace(body)
	for _, eq := range r.Equals {
		if strings.EqualFold(trimmed, eq) {
			return true
		}
	}
	return r.Pattern != nil && r.Pattern.MatchString(body)
}

// Router dispatches inbound events: message rules schedule delayed
// replies, call events are gated by the business-hours window. Scheduled
// replies are tracked and cancellable, so a session teardown can drop
// pending work instead of letting it fire against a dead connection.
type Router struct {
	adapter transport.Adapter
	rules   []Rule
	window  hours.Window
	db      *gorm.DB
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[uint64]pendingReply
	nextID  uint64
}

// pendingReply is an armed reply timer plus the audit row it will settle.
type pendingReply struct {
	timer  *time.Timer
	fireID uint
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Adapter transport.Adapter
	Rules   []Rule
	Window  hours.Window
	DB      *gorm.DB
	Logger  *zap.Logger
	Now     func() time.Time // defaults to time.Now; injectable for tests
}

// New creates a Router.
func New(opts RouterOpts) (*Router, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("router: adapter is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("router: db is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		adapter: opts.Adapter,
		rules:   opts.Rules,
		window:  opts.Window,
		db:      opts.DB,
		logger:  opts.Logger,
		now:     now,
		pending: make(map[uint64]pendingReply),
	}, nil
}

// Handle classifies and routes a single inbound event. Message and call
// handling never blocks on scheduled work; failures are logged, never
// propagated.
func (r *Router) Handle(ctx context.Context, evt transport.Event) {
	switch evt.Kind {
	case transport.EventMessage:
		r.handleMessage(ctx, evt)
	case transport.EventCall:
		r.handleCall(ctx, evt)
	}
}

// handleMessage evaluates every rule against the message body. Each
// matching rule schedules one reply after its configured delay.
func (r *Router) handleMessage(ctx context.Context, evt transport.Event) {
	for _, rule := range r.rules {
		if !rule.Matches(evt.Body) {
			continue
		}
		r.logger.Warn("rule matched",
			zap.String("rule", rule.Name),
			zap.String("from", evt.From),
			zap.String("body", evt.Body))
		r.scheduleReply(ctx, rule, evt.From)
	}
}

// scheduleReply arms a timer for the rule's reply. The response is chosen
// at dispatch time, not match time, so repeated matches draw independently
// from the configured set.
func (r *Router) scheduleReply(ctx context.Context, rule Rule, to string) {
	fire := models.RuleFire{Rule: rule.Name, ChatID: to, Status: "scheduled"}
	if err := r.db.Create(&fire).Error; err != nil {
		r.logger.Error("record rule fire", zap.String("rule", rule.Name), zap.Error(err))
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	timer := time.AfterFunc(rule.Delay, func() {
		r.mu.Lock()
		_, live := r.pending[id]
		delete(r.pending, id)
		r.mu.Unlock()
		if !live {
			// Cancelled between expiry and execution.
			return
		}
		r.dispatchReply(ctx, rule, to, fire.ID)
	})
	r.pending[id] = pendingReply{timer: timer, fireID: fire.ID}
	r.mu.Unlock()
}

// dispatchReply picks a response and sends it. A send against a dead
// session is a logged, non-fatal error.
func (r *Router) dispatchReply(ctx context.Context, rule Rule, to string, fireID uint) {
	response := rule.Responses[rand.Intn(len(rule.Responses))]

	if err := r.adapter.SendMessage(ctx, to, response); err != nil {
		r.logger.Error("send scheduled reply",
			zap.String("rule", rule.Name),
			zap.String("to", to),
			zap.Error(err))
		r.updateFire(fireID, "failed", response)
		return
	}
	r.logger.Warn("reply sent",
		zap.String("rule", rule.Name),
		zap.String("to", to),
		zap.String("response", response))
	r.updateFire(fireID, "sent", response)
}

// handleCall rejects calls outside business hours and notifies the
// caller. The window is evaluated per event, never latched. A reject
// failure is logged and the notice send is skipped, not retried.
func (r *Router) handleCall(ctx context.Context, evt transport.Event) {
	if r.window.Open(r.now()) {
		return
	}

	if err := r.adapter.RejectCall(ctx, evt.CallID); err != nil {
		r.logger.Error("reject call",
			zap.String("from", evt.From),
			zap.String("call_id", evt.CallID),
			zap.Error(err))
		return
	}
	r.logger.Warn("call rejected", zap.String("from", evt.From))

	if err := r.adapter.SendMessage(ctx, evt.From, outOfHoursNotice); err != nil {
		r.logger.Error("send out-of-hours notice",
			zap.String("from", evt.From),
			zap.Error(err))
	}
}

// CancelPending stops every scheduled reply that has not yet dispatched
// and settles the audit rows as cancelled. Called by the session
// supervisor on teardown.
func (r *Router) CancelPending() int {
	r.mu.Lock()
	cancelled := make([]uint, 0, len(r.pending))
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
		cancelled = append(cancelled, p.fireID)
	}
	r.mu.Unlock()

	for _, fireID := range cancelled {
		r.updateFire(fireID, "cancelled", "")
	}
	if len(cancelled) > 0 {
		r.logger.Warn("cancelled pending replies", zap.Int("count", len(cancelled)))
	}
	return len(cancelled)
}

// PendingCount returns the number of armed reply timers.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// updateFire records the dispatch outcome on the audit row (best-effort).
func (r *Router) updateFire(id uint, status, response string) {
	if id == 0 {
		return
	}
	err := r.db.Model(&models.RuleFire{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "response": response}).Error
	if err != nil {
		r.logger.Error("update rule fire", zap.Uint("id", id), zap.Error(err))
	}
}
