package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"arbitra/db"
	"arbitra/journal"
	"arbitra/protocol"
)

var (
	// ErrInvalidCredentials signals a wrong name or secret.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakSecret signals the secret doesn't meet requirements.
	ErrWeakSecret = errors.New("auth: secret must be at least 8 characters")
	// ErrInvalidName signals a blank, oversized or whitespace-bearing name.
	ErrInvalidName = errors.New("auth: invalid identity name")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// DefaultTokenTTL is used when the service is built with a zero TTL.
const DefaultTokenTTL = 24 * time.Hour

// Service registers identities and issues the bearer tokens that carry them.
type Service struct {
	pool      db.TxBeginner
	reader    db.Querier
	repo      Repository
	journal   journal.Sink
	jwtSecret []byte
	ttl       time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// LoginResult bundles the token and identity returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  Identity
}

func NewService(pool db.TxBeginner, reader db.Querier, repo Repository, sink journal.Sink, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		pool:      pool,
		reader:    reader,
		repo:      repo,
		journal:   sink,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "auth").Logger()
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new identity.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Identity, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > MaxNameLen || strings.ContainsAny(name, " \t\r\n") {
		return Identity{}, ErrInvalidName
	}
	if len(req.Secret) < 8 {
		return Identity{}, ErrWeakSecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: hash secret: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	identity, err := s.repo.CreateIdentity(ctx, tx, CreateIdentityParams{
		Name:       protocol.Identity(name),
		SecretHash: string(hash),
	})
	if err != nil {
		return Identity{}, err
	}

	if s.journal != nil {
		if err := s.journal.Append(ctx, tx, journal.Event{
			Account: identity.ID,
			Kind:    journal.KindIdentityRegistered,
			Actor:   identity.Name,
			Payload: map[string]any{"name": identity.Name},
		}); err != nil {
			return Identity{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Identity{}, fmt.Errorf("auth: commit tx: %w", err)
	}
	s.logger.Info().Str("identity", string(identity.Name)).Msg("identity registered")
	return identity, nil
}

// Login checks the secret and returns a signed token naming the identity.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	identity, err := s.repo.GetIdentityByName(ctx, s.reader, protocol.Identity(strings.TrimSpace(req.Name)))
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.SecretHash), []byte(req.Secret)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expires, err := s.generateToken(identity)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: expires, Identity: identity}, nil
}

func (s *Service) GetIdentity(ctx context.Context, id uuid.UUID) (Identity, error) {
	return s.repo.GetIdentityByID(ctx, s.reader, id)
}

// VerifyToken validates a token and returns the identity it names.
func (s *Service) VerifyToken(tokenString string) (protocol.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	name, ok := claims["sub"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return protocol.Identity(name), nil
}

func (s *Service) generateToken(identity Identity) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub": string(identity.Name),
		"iid": identity.ID.String(),
		"exp": expires.Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}
