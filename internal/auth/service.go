package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aiserve/modelrouter/internal/config"
	"github.com/aiserve/modelrouter/internal/database"
)

// User is an operator account; an admin user can mint API keys through the
// admin HTTP surface. Request traffic itself authenticates with an API key,
// not a user session.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	IsAdmin   bool
	IsActive  bool
	CreatedAt time.Time
}

// APIKeyInfo is what ValidateAPIKey returns on a successful lookup: enough
// to attribute and rate-limit a request without round-tripping the secret.
type APIKeyInfo struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
}

// Service is the credential backend behind the HTTP auth middleware, the
// gRPC auth interceptor and the auth handlers: user/JWT/API-key handling
// generalized onto the SQLite-only database package.
type Service struct {
	db  database.DB
	cfg *config.AuthConfig
}

func NewService(db database.DB, cfg *config.AuthConfig) *Service {
	return &Service{db: db, cfg: cfg}
}

func (s *Service) GetJWTSecret() string {
	return s.cfg.JWTSecret
}

var ErrInvalidCredentials = errors.New("invalid credentials")
var ErrInactiveUser = errors.New("user account is inactive")
var ErrInvalidAPIKey = errors.New("invalid API key")

func (s *Service) Register(ctx context.Context, email, password, name string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{ID: uuid.New(), Email: email, Name: name, IsActive: true, CreatedAt: time.Now()}
	err = s.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name) VALUES (?, ?, ?, ?)`,
		user.ID.String(), email, hash, name)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *User, error) {
	var (
		id, passwordHash, name string
		isAdmin, isActive      bool
	)
	row := s.db.QueryRow(ctx, `SELECT id, password_hash, name, is_admin, is_active FROM users WHERE email = ?`, email)
	if err := row.Scan(&id, &passwordHash, &name, &isAdmin, &isActive); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !isActive {
		return nil, nil, ErrInactiveUser
	}
	if err := VerifyPassword(passwordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	userID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := GenerateTokenPair(userID, email, isAdmin, s.cfg.JWTSecret, s.cfg.JWTExpiration, s.cfg.JWTExpiration)
	if err != nil {
		return nil, nil, err
	}
	return tokens, &User{ID: userID, Email: email, Name: name, IsAdmin: isAdmin, IsActive: isActive}, nil
}

// CreateAPIKey mints a new key for a user and returns the plaintext once;
// only its SHA-256 digest is persisted, so the value can never be recovered
// from the database.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, expiresAt *time.Time) (string, error) {
	key, err := GenerateSecureToken(s.cfg.APIKeyLength)
	if err != nil {
		return "", err
	}
	err = s.db.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, name, expires_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), userID.String(), digestAPIKey(key), name, expiresAt)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey resolves a caller-presented key to its owning user via a
// single indexed lookup on the key's digest; the HTTP auth middleware and
// the gRPC auth interceptor call it at the transport boundary.
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (*APIKeyInfo, error) {
	digest := digestAPIKey(apiKey)

	var (
		keyID, userID, name string
		isActive            bool
		expiresAt           *time.Time
	)
	row := s.db.QueryRow(ctx,
		`SELECT id, user_id, name, is_active, expires_at FROM api_keys WHERE key_hash = ?`, digest)
	if err := row.Scan(&keyID, &userID, &name, &isActive, &expiresAt); err != nil {
		return nil, ErrInvalidAPIKey
	}
	if !isActive {
		return nil, ErrInvalidAPIKey
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return nil, ErrInvalidAPIKey
	}

	go s.touchAPIKey(keyID)

	parsedKeyID, err := uuid.Parse(keyID)
	if err != nil {
		return nil, err
	}
	parsedUserID, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	return &APIKeyInfo{ID: parsedKeyID, UserID: parsedUserID, Name: name}, nil
}

func (s *Service) touchAPIKey(keyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, keyID)
}

// RecordRequest appends one entry to the request audit log and returns any
// write error; the HTTP generate handler calls it from its own goroutine
// and discards that error, so audit failures never block the response.
func (s *Service) RecordRequest(ctx context.Context, rec RequestAudit) error {
	return s.db.Exec(ctx,
		`INSERT INTO request_audit
			(id, api_key_id, model_id, operation, status, prompt_tokens, completion_tokens, cost, latency_ms, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), rec.APIKeyID, rec.ModelID, rec.Operation, rec.Status,
		rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.LatencyMS, rec.ErrorKind)
}

// RequestAudit is one row of internal/database's request_audit table.
type RequestAudit struct {
	APIKeyID         string
	ModelID          string
	Operation        string
	Status           string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	LatencyMS        int64
	ErrorKind        string
}

func digestAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
