// Package pipeline implements the outbound delivery pipeline: validate,
// authenticate, sanitize, normalize, registration-check, dispatch.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/memo"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/phone"
	"github.com/zulandar/switchboard/internal/transport"
)

// Kind classifies a delivery failure.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuth           Kind = "auth"
	KindInvalidAddress Kind = "invalid_address"
	KindNotRegistered  Kind = "not_registered"
	KindDelivery       Kind = "delivery"
)

// SendError is the typed failure returned by Deliver. Fields carries
// per-field detail for validation failures.
type SendError struct {
	Kind   Kind
	Fields []string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s: %v", e.Kind, e.Err)
	}
	if len(e.Fields) > 0 {
		return fmt.Sprintf("pipeline: %s: %s", e.Kind, strings.Join(e.Fields, "; "))
	}
	return fmt.Sprintf("pipeline: %s", e.Kind)
}

func (e *SendError) Unwrap() error { return e.Err }

// HTTPStatus maps the failure kind to its HTTP response status.
func (e *SendError) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindDelivery:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// SendRequest is the raw outbound request from the HTTP boundary.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"msg"`
	Login   string `json:"login"`
	Pass    string `json:"pass"`
}

// Receipt describes a successful delivery.
type Receipt struct {
	ContactID string
	Message   string
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>?`)
	loginRe = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Pipeline validates and dispatches outbound send requests. Safe for
// concurrent use; it shares the transport adapter with the inbound router.
type Pipeline struct {
	adapter  transport.Adapter
	db       *gorm.DB
	logger   *zap.Logger
	auth     config.AuthConfig
	regCache *memo.Cache

	authWarn sync.Once
}

// Opts holds parameters for creating a Pipeline.
type Opts struct {
	Adapter   transport.Adapter
	DB        *gorm.DB
	Logger    *zap.Logger
	Auth      config.AuthConfig
	CacheSize int // registration-check LRU capacity
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("pipeline: adapter is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: db is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		adapter:  opts.Adapter,
		db:       opts.DB,
		logger:   opts.Logger,
		auth:     opts.Auth,
		regCache: memo.New(opts.CacheSize),
	}, nil
}

// Deliver runs the full pipeline for one request. Every failure is a
// *SendError; the registration check always runs before dispatch.
func (p *Pipeline) Deliver(ctx context.Context, req SendRequest) (*Receipt, error) {
	// 1. Field validation: enumerate every missing field.
	var missing []string
	if strings.TrimSpace(req.To) == "" {
		missing = append(missing, "Número do destinatário é obrigatório")
	}
	if strings.TrimSpace(req.Message) == "" {
		missing = append(missing, "Mensagem é obrigatória")
	}
	if strings.TrimSpace(req.Login) == "" {
		missing = append(missing, "Login é obrigatório")
	}
	if strings.TrimSpace(req.Pass) == "" {
		missing = append(missing, "Senha é obrigatória")
	}
	if len(missing) > 0 {
		return nil, &SendError{Kind: KindValidation, Fields: missing}
	}

	// 2. Sanitization: strip HTML-like tags from the message and
	// non-alphanumerics from the login.
	sanitizedMsg := tagRe.ReplaceAllString(req.Message, "")
	sanitizedLogin := loginRe.ReplaceAllString(req.Login, "")

	// 3. Credential check against the configured login and bcrypt hash.
	if err := p.authenticate(sanitizedLogin, req.Pass); err != nil {
		return nil, err
	}

	// 4. Address normalization.
	digits := phone.Normalize(req.To)
	if digits == "" {
		p.logger.Warn("invalid destination number", zap.String("to", req.To))
		return nil, &SendError{Kind: KindInvalidAddress}
	}
	contactID := phone.ContactID(digits)

	// 5. Registration check, memoized per contact. Only positive results
	// are cached so a newly registered number is rechecked.
	registered, err := p.isRegistered(ctx, contactID)
	if err != nil {
		p.logger.Error("registration lookup", zap.String("contact", contactID), zap.Error(err))
		return nil, &SendError{Kind: KindDelivery, Err: err}
	}
	if !registered {
		p.logger.Warn("number not registered",
			zap.String("number", digits),
			zap.String("message", req.Message))
		p.audit(contactID, sanitizedMsg, "unregistered", "")
		return nil, &SendError{Kind: KindNotRegistered}
	}

	// 6. Dispatch.
	if err := p.adapter.SendMessage(ctx, contactID, sanitizedMsg); err != nil {
		p.logger.Error("send message", zap.String("contact", contactID), zap.Error(err))
		p.audit(contactID, sanitizedMsg, "failed", err.Error())
		return nil, &SendError{Kind: KindDelivery, Err: err}
	}

	p.logger.Info("message delivered",
		zap.String("number", digits),
		zap.String("message", req.Message))
	p.audit(contactID, sanitizedMsg, "sent", "")
	return &Receipt{ContactID: contactID, Message: sanitizedMsg}, nil
}

// authenticate verifies the sanitized login and password against the
// configured credentials. An unset hash disables the check (warned once).
func (p *Pipeline) authenticate(login, pass string) *SendError {
	if p.auth.PasswordHash == "" {
		p.authWarn.Do(func() {
			p.logger.Warn("no password hash configured, credential check disabled")
		})
		return nil
	}
	if login != p.auth.Login {
		return &SendError{Kind: KindAuth}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.auth.PasswordHash), []byte(pass)); err != nil {
		return &SendError{Kind: KindAuth}
	}
	return nil
}

// isRegistered answers the registration check through the LRU cache.
func (p *Pipeline) isRegistered(ctx context.Context, contactID string) (bool, error) {
	if v, ok := p.regCache.Get(contactID); ok {
		return v.(bool), nil
	}
	registered, err := p.adapter.IsRegisteredUser(ctx, contactID)
	if err != nil {
		return false, err
	}
	if registered {
		p.regCache.Put(contactID, true)
	}
	return registered, nil
}

// audit writes a Delivery row (best-effort).
func (p *Pipeline) audit(contactID, message, status, detail string) {
	row := models.Delivery{ContactID: contactID, Message: message, Status: status, Detail: detail}
	if err := p.db.Create(&row).Error; err != nil {
		p.logger.Error("record delivery", zap.String("contact", contactID), zap.Error(err))
	}
}
