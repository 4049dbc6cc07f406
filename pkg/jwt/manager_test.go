package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

func TestGenerateDecodeRoundTrip(t *testing.T) {
	m := NewManager("s3cret", WithIssuer("im-identity"))

	tok, err := m.Generate(1001, time.Hour)
	require.NoError(t, err)

	claims, err := m.Decode("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), claims.UserID)
	assert.NotEmpty(t, claims.SessionID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 2*time.Second)
}

func TestDecodeRejects(t *testing.T) {
	m := NewManager("s3cret")

	_, err := m.Decode("")
	assert.ErrorIs(t, err, gwerrors.ErrTokenMissing)

	expired, err := m.Generate(1, -time.Minute)
	require.NoError(t, err)
	_, err = m.Decode(expired)
	assert.ErrorIs(t, err, gwerrors.ErrTokenExpired)
	assert.ErrorIs(t, err, gwerrors.ErrAuth)

	other, err := NewManager("other").Generate(1, time.Hour)
	require.NoError(t, err)
	_, err = m.Decode(other)
	assert.ErrorIs(t, err, gwerrors.ErrInvalidToken)

	_, err = m.Decode("not-a-jwt")
	assert.ErrorIs(t, err, gwerrors.ErrAuth)
}

func TestDecodeRejectsNonNumericSubject(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = NewManager("s3cret").Decode(tok)
	assert.ErrorIs(t, err, gwerrors.ErrInvalidToken)
}

func TestDecodeRequiresExpiry(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "7"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = NewManager("s3cret").Decode(tok)
	assert.ErrorIs(t, err, gwerrors.ErrAuth)
}
