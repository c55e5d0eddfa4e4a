package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-pkgz/auth/v2/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/javi11/docvault/internal/config"
	"github.com/javi11/docvault/internal/metrics"
	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

const (
	// CookieName is the session cookie carrying the signed JWT.
	CookieName = "JWT"

	issuer          = "docvault"
	audience        = "docvault-portal"
	generatedSecret = 64
)

var (
	// ErrInvalidCredentials is returned when a username/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for malformed, expired or foreign tokens.
	ErrInvalidToken = errors.New("invalid session token")
)

// Service checks credentials against the configured user table and issues
// session tokens signed with go-pkgz/auth.
type Service struct {
	configGetter config.ConfigGetter
	tokens       *token.Service
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates the session service. When no secret is configured a random
// one is generated, so sessions do not survive a restart.
func NewService(configGetter config.ConfigGetter) (*Service, error) {
	logger := slog.Default().With("component", "auth")
	cfg := configGetter()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		generated, err := password.Generate(generatedSecret, 10, 0, false, true)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		secret = generated
		logger.Warn("No auth.jwt_secret configured, generated an ephemeral secret; sessions will not survive a restart")
	}

	if len(cfg.Auth.Users) == 0 {
		logger.Warn("No users configured, nobody will be able to log in")
	}

	tokens := token.NewService(token.Opts{
		SecretReader: token.SecretFunc(func(string) (string, error) {
			return secret, nil
		}),
		TokenDuration:  cfg.GetTokenDuration(),
		CookieDuration: cfg.GetTokenDuration(),
		SecureCookies:  cfg.Auth.CookieSecure,
		JWTCookieName:  CookieName,
		Issuer:         issuer,
		DisableXSRF:    true,
	})

	return &Service{
		configGetter: configGetter,
		tokens:       tokens,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Authenticate checks username and password against the configured users.
// Stored passwords starting with "$2" are bcrypt hashes, anything else is
// compared in constant time.
func (s *Service) Authenticate(username, pass string) error {
	username = strings.TrimSpace(username)
	pass = strings.TrimSpace(pass)
	if username == "" || pass == "" {
		metrics.RecordAuthAttempt(false)
		return ErrInvalidCredentials
	}

	for _, u := range s.configGetter().Auth.Users {
		if u.Username != username {
			continue
		}
		if checkPassword(u.Password, pass) {
			metrics.RecordAuthAttempt(true)
			return nil
		}
		break
	}

	s.logger.Info("Login rejected", "user", username)
	metrics.RecordAuthAttempt(false)
	return ErrInvalidCredentials
}

func checkPassword(stored, given string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// Issue signs a session token for username and returns it with its expiry.
func (s *Service) Issue(username string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.configGetter().GetTokenDuration())

	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        username + "-" + fmt.Sprint(now.UnixNano()),
			Subject:   username,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		User: &token.User{
			ID:   username,
			Name: username,
		},
	}

	signed, err := s.tokens.Token(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, expires, nil
}

// Verify parses a session token and returns the user it was issued for.
// Tokens for users that were removed from the configuration are rejected.
func (s *Service) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidToken
	}

	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(s.now()) {
		return "", fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	if !slices.Contains(claims.Audience, audience) {
		return "", fmt.Errorf("%w: wrong audience", ErrInvalidToken)
	}

	username := claims.Subject
	if claims.User != nil && claims.User.ID != "" {
		username = claims.User.ID
	}

	if !s.knownUser(username) {
		return "", fmt.Errorf("%w: unknown user", ErrInvalidToken)
	}

	return username, nil
}

func (s *Service) knownUser(username string) bool {
	for _, u := range s.configGetter().Auth.Users {
		if u.Username == username {
			return true
		}
	}
	return false
}

// HashPassword returns a bcrypt hash suitable for auth.users[].password.
func HashPassword(pass string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
