package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"backbone/internal/eventbus"
	"backbone/internal/storage"
	"backbone/pkg/logx"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
)

// Claims is the signed payload of an issued token.
type Claims struct {
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	TokenID   string `json:"jti"`
}

// Config controls token issuance.
type Config struct {
	// Secret signs tokens (HMAC-SHA256). Empty selects a random per-process
	// secret, which invalidates all outstanding tokens on restart.
	Secret string

	Issuer   string
	TokenTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 30 * time.Minute
	}
	if strings.TrimSpace(c.Issuer) == "" {
		c.Issuer = "backbone"
	}
	return c
}

// Service issues and validates short-lived subject tokens.
//
// Revocation is tracked by token id; each entry lives exactly as long as the
// token it blocks, so the set stays bounded by the token TTL.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	secret []byte

	revoked map[string]time.Time // token id -> expiry of the revoked token

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	now func() time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("auth: cannot read random secret: " + err.Error())
		}
		log.Warn("no token secret configured; using a random per-process secret (tokens will not survive restart)")
	}

	return &Service{
		cfg:     cfg,
		secret:  secret,
		revoked: map[string]time.Time{},
		log:     log,
		bus:     bus,
		store:   store,
		now:     time.Now,
	}
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	if sec := []byte(cfg.Secret); len(sec) > 0 {
		s.secret = sec
	}
	s.mu.Unlock()
}

// TokenTTL returns the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.TokenTTL
}

// Issue creates a signed token binding subject to an absolute expiry.
func (s *Service) Issue(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	s.mu.Lock()
	cfg := s.cfg
	secret := s.secret
	s.mu.Unlock()

	now := s.now()
	claims := Claims{
		Issuer:    cfg.Issuer,
		Subject:   subject,
		ExpiresAt: now.Add(cfg.TokenTTL).Unix(),
		IssuedAt:  now.Unix(),
		TokenID:   uuid.NewString(),
	}

	token, err := encode(claims, secret)
	if err != nil {
		return "", err
	}
	s.log.Debug("token issued", logx.String("subject", subject), logx.String("jti", claims.TokenID), logx.Time("exp", time.Unix(claims.ExpiresAt, 0)))
	return token, nil
}

// Validate verifies signature, expiry, issuer and revocation state, and
// returns the embedded subject.
func (s *Service) Validate(token string) (string, error) {
	claims, err := s.verify(token)
	if err != nil {
		return "", err
	}

	if !s.now().Before(time.Unix(claims.ExpiresAt, 0)) {
		return "", ErrExpiredToken
	}

	if s.isRevoked(claims.TokenID) {
		return "", ErrRevokedToken
	}
	return claims.Subject, nil
}

// Revoke blocks a specific token for the remainder of its natural lifetime.
// The token must be structurally valid and correctly signed; already-expired
// tokens need no entry and are accepted as a no-op.
func (s *Service) Revoke(token string) error {
	claims, err := s.verify(token)
	if err != nil {
		return err
	}

	until := time.Unix(claims.ExpiresAt, 0)
	if !s.now().Before(until) {
		return nil
	}

	s.mu.Lock()
	s.revoked[claims.TokenID] = until
	s.mu.Unlock()

	if s.store != nil {
		ctx, cancel := contextWithShortTimeout()
		err := s.store.PutRevocation(ctx, claims.TokenID, until)
		cancel()
		if err != nil {
			s.log.Warn("revocation persist failed", logx.String("jti", claims.TokenID), logx.Err(err))
		}
	}

	s.log.Info("token revoked", logx.String("subject", claims.Subject), logx.String("jti", claims.TokenID), logx.Time("until", until))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventTokenRevoked, Time: s.now(), Data: claims.Subject})
	}
	return nil
}

// SweepRevocations drops revocation entries whose token has expired anyway.
// It returns the number of dropped entries.
func (s *Service) SweepRevocations() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, until := range s.revoked {
		if !now.Before(until) {
			delete(s.revoked, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("revocation sweep", logx.Int("evicted", removed), logx.Int("remaining", len(s.revoked)))
	}
	return removed
}

func (s *Service) isRevoked(tokenID string) bool {
	s.mu.Lock()
	_, ok := s.revoked[tokenID]
	store := s.store
	s.mu.Unlock()
	if ok {
		return true
	}
	if store == nil {
		return false
	}
	// Fall through to the persistent set so revocations survive restarts.
	ctx, cancel := contextWithShortTimeout()
	defer cancel()
	until, found, err := store.GetRevocation(ctx, tokenID)
	if err != nil {
		s.log.Warn("revocation lookup failed", logx.String("jti", tokenID), logx.Err(err))
		return false
	}
	return found && s.now().Before(until)
}

// verify checks structure and signature and decodes the claims. It does NOT
// check expiry or revocation; callers layer those as needed.
func (s *Service) verify(token string) (Claims, error) {
	s.mu.Lock()
	secret := s.secret
	issuer := s.cfg.Issuer
	s.mu.Unlock()

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}

	sig, err := b64Decode(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	want := sign(parts[0]+"."+parts[1], secret)
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return Claims{}, ErrInvalidToken
	}

	payload, err := b64Decode(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Issuer != issuer || claims.Subject == "" || claims.ExpiresAt == 0 {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func encode(claims Claims, secret []byte) (string, error) {
	header := b64Encode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	msg := header + "." + b64Encode(payload)
	return msg + "." + b64Encode(sign(msg, secret)), nil
}

func sign(msg string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func b64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Storage calls must never stall a request-path validation.
func contextWithShortTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}
