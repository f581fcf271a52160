// Package auth validates bearer tokens and turns their claims into the
// request's user context. Tokens are issued by the login service; this
// package can also sign them for the seed CLI and tests.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appctx "odds/internal/core/context"
)

// Permissions checked by the certificate endpoints.
const (
	PermCertificatesProcess = "certificates:process"
	PermCertificatesRead    = "certificates:read"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

// DefaultJWTConfig returns default JWT configuration.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:         secret,
		Issuer:         "odds",
		AccessTokenTTL: 8 * time.Hour,
	}
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"perms,omitempty"`
	SchoolID    int64    `json:"sid,omitempty"`
	Global      bool     `json:"glb,omitempty"`
	IsAdmin     bool     `json:"adm,omitempty"`
}

// JWTService handles JWT operations.
type JWTService struct {
	config JWTConfig
	now    func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(config JWTConfig) *JWTService {
	return &JWTService{config: config, now: time.Now}
}

// GenerateAccessToken signs a token for user.
func (s *JWTService) GenerateAccessToken(user *appctx.UserContext) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: user.Permissions,
		SchoolID:    user.SchoolID,
		Global:      user.HasGlobalPermissions,
		IsAdmin:     user.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken validates JWT and returns user context.
// A token must name either a school or global visibility.
func (s *JWTService) ValidateToken(tokenString string) (*appctx.UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			return []byte(s.config.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.SchoolID <= 0 && !claims.Global {
		return nil, fmt.Errorf("%w: token has no school", ErrInvalidToken)
	}

	return &appctx.UserContext{
		UserID:               claims.Subject,
		Email:                claims.Email,
		Roles:                claims.Roles,
		Permissions:          claims.Permissions,
		SchoolID:             claims.SchoolID,
		HasGlobalPermissions: claims.Global,
		IsAdmin:              claims.IsAdmin,
	}, nil
}

// DevUser returns a school administrator for local tooling.
// schoolID 0 yields a global administrator.
func DevUser(schoolID int64) *appctx.UserContext {
	u := &appctx.UserContext{
		UserID:      "dev-" + strconv.FormatInt(schoolID, 10),
		Email:       "admin@odds.local",
		Roles:       []string{"admin"},
		Permissions: []string{PermCertificatesProcess, PermCertificatesRead},
		SchoolID:    schoolID,
	}
	if schoolID == 0 {
		u.HasGlobalPermissions = true
	}
	return u
}
