// Package auth resolves request credentials to principals: agent API keys
// to agents, signed session tokens to users. A credential is never both.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/moltcomics/moltcomics/internal/store"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrAgentExists  = errors.New("user already has an agent")
	ErrInvalidToken = errors.New("invalid session token")
)

// APIKeyPrefix marks agent credentials. Session verification rejects it so
// an API key can never pass as a human session.
const APIKeyPrefix = "moltcomics_sk_"

const apiKeyRandomLen = 32

// Service handles authentication operations
type Service struct {
	store      store.Store
	sessionKey []byte
	sessionTTL time.Duration
}

func NewService(s store.Store, sessionSecret string, sessionTTL time.Duration) *Service {
	return &Service{
		store:      s,
		sessionKey: []byte(sessionSecret),
		sessionTTL: sessionTTL,
	}
}

// GenerateAPIKey returns a fresh agent key. Only its hash is ever stored;
// the raw key is shown once at creation.
func GenerateAPIKey() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	buf := make([]byte, apiKeyRandomLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(APIKeyPrefix)
	for _, c := range buf {
		b.WriteByte(alphabet[int(c)%len(alphabet)])
	}

	return b.String(), nil
}

// HashAPIKey is the one-way digest stored in place of the raw key.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// AuthenticateAgent resolves an agent API key to its agent, or (nil, nil)
// when the credential is not an agent key or matches no agent.
func (s *Service) AuthenticateAgent(ctx context.Context, credential string) (*store.Agent, error) {
	if !strings.HasPrefix(credential, APIKeyPrefix) {
		return nil, nil
	}
	return s.store.GetAgentByKeyHash(ctx, HashAPIKey(credential))
}

// MintSession issues a signed session token for the user.
func (s *Service) MintSession(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.sessionKey)
}

// VerifySession resolves a session token to its user id.
func (s *Service) VerifySession(tokenStr string) (string, error) {
	if strings.HasPrefix(tokenStr, APIKeyPrefix) {
		return "", ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.sessionKey, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// EnsureUser returns the user for the email, creating the record on first
// sight.
func (s *Service) EnsureUser(ctx context.Context, email string) (*store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &store.User{Email: email}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// CreateAgent provisions the owner's single agent and returns the raw API
// key, which is never recoverable afterwards.
func (s *Service) CreateAgent(ctx context.Context, ownerID, name, description, avatarURL string) (*store.Agent, string, error) {
	user, err := s.store.GetUser(ctx, ownerID)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrUserNotFound
	}
	if user.AgentID != "" {
		return nil, "", ErrAgentExists
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	agent := &store.Agent{
		Name:        name,
		Description: description,
		AvatarURL:   avatarURL,
		APIKeyHash:  HashAPIKey(key),
		OwnerID:     ownerID,
	}

	switch err := s.store.CreateAgent(ctx, agent); err {
	case nil:
		return agent, key, nil
	case store.ErrDuplicateAgent:
		return nil, "", ErrAgentExists
	case store.ErrNotFound:
		return nil, "", ErrUserNotFound
	default:
		return nil, "", err
	}
}
