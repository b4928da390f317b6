package session

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fieldproof/internal/audit"
	"fieldproof/internal/config"
)

var (
	// ErrTokenExpired marks an expired session. Callers map it to the
	// reauthenticate recovery path rather than retrying.
	ErrTokenExpired = errors.New("session token expired")

	ErrNoSession = errors.New("no active session")
)

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims is the only supported token shape for technician sessions.
// WorkspaceID must be present: cross-workspace tokens fail closed.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	DeviceID    string    `json:"device_id"`
	TokenType   TokenType `json:"token_type"`
}

// Manager validates session tokens issued by the auth collaborator and holds
// the current identity snapshot for audit events.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	deviceID string
	now      func() time.Time

	mu     sync.RWMutex
	claims *Claims
	online func() bool
}

func NewManager(cfg config.AuthConfig, deviceID string) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		deviceID: deviceID,
		now:      time.Now,
	}, nil
}

// WithClock overrides the validation clock. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithOnlineFunc wires the connectivity probe into the device snapshot.
func (m *Manager) WithOnlineFunc(fn func() bool) *Manager {
	m.online = fn
	return m
}

// ParseAndValidate checks signature, expiry, issuer/audience and the custom
// claims. Expired tokens surface ErrTokenExpired so the caller can route to
// reauthentication instead of retry.
func (m *Manager) ParseAndValidate(tokenString string) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, err
	}

	now := m.now()
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, err
	}

	if claims.TokenType != TokenTypeAccess {
		return Claims{}, errors.New("token_type mismatch")
	}
	if claims.UserID == "" {
		return Claims{}, errors.New("user_id missing")
	}
	if claims.WorkspaceID == "" {
		return Claims{}, errors.New("workspace_id missing")
	}
	return claims, nil
}

// Activate validates the token and installs it as the current session.
func (m *Manager) Activate(tokenString string) (Claims, error) {
	claims, err := m.ParseAndValidate(tokenString)
	if err != nil {
		return Claims{}, err
	}
	m.mu.Lock()
	m.claims = &claims
	m.mu.Unlock()
	return claims, nil
}

// Current returns the active session claims.
func (m *Manager) Current() (Claims, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.claims == nil {
		return Claims{}, ErrNoSession
	}
	return *m.claims, nil
}

// ClearArtifacts drops the active session. Called on the reauthenticate
// recovery path after auth-family sync failures.
func (m *Manager) ClearArtifacts() {
	m.mu.Lock()
	m.claims = nil
	m.mu.Unlock()
}

// Actor implements the ledger's identity source. Events recorded with no
// active session carry the stable device fallback actor.
func (m *Manager) Actor() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.claims != nil && m.claims.UserID != "" {
		return m.claims.UserID
	}
	return "device:" + m.deviceID
}

func (m *Manager) DeviceContext() audit.DeviceContext {
	online := false
	if m.online != nil {
		online = m.online()
	}
	return audit.DeviceContext{
		DeviceID: m.deviceID,
		Platform: runtime.GOOS,
		Online:   online,
	}
}
