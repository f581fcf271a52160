package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "odds/internal/core/context"
)

func newTestService() *JWTService {
	return NewJWTService(DefaultJWTConfig("test-secret"))
}

func TestJWT_RoundTrip(t *testing.T) {
	svc := newTestService()
	user := &appctx.UserContext{
		UserID:      "u-17",
		Email:       "office@fwds.test",
		Roles:       []string{"school_admin"},
		Permissions: []string{PermCertificatesProcess},
		SchoolID:    3,
	}

	token, exp, err := svc.GenerateAccessToken(user)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.Equal(t, appctx.SchoolScope{SchoolID: 3}, appctx.ScopeForUser(got))
}

func TestJWT_GlobalUser(t *testing.T) {
	svc := newTestService()
	token, _, err := svc.GenerateAccessToken(DevUser(0))
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, got.HasGlobalPermissions)
	assert.True(t, appctx.ScopeForUser(got).Allows(42))
}

func TestJWT_Rejects(t *testing.T) {
	svc := newTestService()

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService(DefaultJWTConfig("other"))
		token, _, err := other.GenerateAccessToken(DevUser(1))
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewJWTService(DefaultJWTConfig("test-secret"))
		past.now = func() time.Time { return time.Now().Add(-24 * time.Hour) }
		token, _, err := past.GenerateAccessToken(DevUser(1))
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no school", func(t *testing.T) {
		token, _, err := svc.GenerateAccessToken(&appctx.UserContext{UserID: "u-1"})
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", Issuer: "odds"},
			SchoolID:         1,
		})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
