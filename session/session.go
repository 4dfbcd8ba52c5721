// Package session holds the bearer token of the signed-in user and resolves
// who that user is.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"prism-live/domain"
	"prism-live/httpclient"
)

var (
	ErrNoToken      = errors.New("no session token")
	ErrInvalidToken = errors.New("invalid session token")
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string          `json:"access_token"`
	User        domain.Identity `json:"user"`
}

// Service talks to the auth endpoints of the task API.
type Service struct {
	api    *httpclient.Client
	logger *log.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
}

// New creates a Service for the API at baseURL, optionally seeded with a
// token obtained elsewhere.
func New(baseURL, token string, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Service{logger: logger, now: time.Now, token: token}
	s.api = httpclient.New(baseURL, s.Token)
	s.api.OnUnauthorized = func() {
		s.logger.Warn("api rejected session token, clearing it")
		s.Clear()
	}
	return s
}

// HTTP exposes the authenticated client so other API clients share the
// session token.
func (s *Service) HTTP() *httpclient.Client { return s.api }

func (s *Service) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Service) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear forgets the token, which signs the user out.
func (s *Service) Clear() { s.SetToken("") }

// IsAuthenticated reports whether a token is held and, when it is a JWT,
// whether it has not expired yet. The signature is not checked here.
func (s *Service) IsAuthenticated() bool {
	token := s.Token()
	if token == "" {
		return false
	}
	if strings.Count(token, ".") != 2 {
		return true
	}
	claims, err := parseClaims(token)
	if err != nil {
		return false
	}
	return claims.VerifyExpiresAt(s.now().Unix(), false)
}

// Login exchanges credentials for a token and keeps it.
func (s *Service) Login(ctx context.Context, email, password string) (domain.Identity, error) {
	var resp loginResponse
	if err := s.api.PostJSON(ctx, "/auth/login", credentials{Email: email, Password: password}, &resp); err != nil {
		return domain.Identity{}, fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return domain.Identity{}, fmt.Errorf("login: %w", ErrNoToken)
	}
	s.SetToken(resp.AccessToken)
	s.logger.WithField("user", resp.User.UserID).Info("logged in")
	return resp.User, nil
}

// UserProfile fetches the signed-in user from the API.
func (s *Service) UserProfile(ctx context.Context) (domain.Identity, error) {
	if s.Token() == "" {
		return domain.Identity{}, ErrNoToken
	}
	var id domain.Identity
	if err := s.api.GetJSON(ctx, "/auth/profile", &id); err != nil {
		return domain.Identity{}, fmt.Errorf("get profile: %w", err)
	}
	return id, nil
}

// Identity prefers the API profile and falls back to the token's claims when
// the profile cannot be fetched.
func (s *Service) Identity(ctx context.Context) (domain.Identity, error) {
	id, err := s.UserProfile(ctx)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, ErrNoToken) || httpclient.IsStatus(err, http.StatusUnauthorized) {
		return domain.Identity{}, err
	}
	fallback, cerr := IdentityFromToken(s.Token())
	if cerr != nil {
		return domain.Identity{}, err
	}
	s.logger.WithError(err).Warn("profile unavailable, using token claims")
	return fallback, nil
}

// IdentityFromToken reads sub, email and role from an unverified JWT.
func IdentityFromToken(token string) (domain.Identity, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return domain.Identity{}, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	id := domain.Identity{UserID: sub, Role: domain.RoleUser}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		id.Role = role
	}
	return id, nil
}

func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
