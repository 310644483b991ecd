// Package auth implements credential verification and JWT issuance for the
// HTTP API. Passwords are stored as bcrypt hashes; tokens are HMAC-signed
// and carry the user's ID and role.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/pkg/logger"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 7 * 24 * time.Hour

const bcryptCost = 10

// Claims is the JWT payload for an authenticated user.
type Claims struct {
	UserID string    `json:"userId"`
	Role   user.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service verifies credentials and mints tokens.
type Service struct {
	users  storage.UserStore
	secret []byte
	ttl    time.Duration
	log    *logger.Logger
}

// New constructs an auth service signing with the given secret.
func New(users storage.UserStore, secret string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    TokenTTL,
		log:    log,
	}
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login verifies the email and password and returns a signed token together
// with the authenticated user. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, user.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", user.User{}, core.RequiredError("email")
	}
	if password == "" {
		return "", user.User{}, core.RequiredError("password")
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if core.IsNotFound(err) {
			return "", user.User{}, core.NewAccessDeniedError("login", "", "invalid credentials")
		}
		return "", user.User{}, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		s.log.WithField("user_id", u.ID).Warn("login rejected: bad password")
		return "", user.User{}, core.NewAccessDeniedError("login", "", "invalid credentials")
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return "", user.User{}, err
	}
	s.log.WithField("user_id", u.ID).WithField("role", string(u.Role)).Info("user logged in")
	return token, u, nil
}

// IssueToken signs a token for the user with the service's TTL.
func (s *Service) IssueToken(u user.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a signed token, returning its claims.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, core.NewAccessDeniedError("token verification", "", "invalid or expired token")
	}
	if !token.Valid || !claims.Role.Valid() {
		return Claims{}, core.NewAccessDeniedError("token verification", "", "invalid or expired token")
	}
	return claims, nil
}
