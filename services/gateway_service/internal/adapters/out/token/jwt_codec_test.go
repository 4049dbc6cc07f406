package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/pkg/jwt"
)

func TestJWTCodecDecode(t *testing.T) {
	m := jwt.NewManager("secret")
	codec := NewJWTCodec(m)

	tok, err := m.Generate(42, time.Hour)
	require.NoError(t, err)

	claims, err := codec.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.UserID)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestJWTCodecRejectsWithinLeeway(t *testing.T) {
	m := jwt.NewManager("secret", jwt.WithLeeway(time.Minute))
	codec := NewJWTCodec(m)

	tok, err := m.Generate(42, -10*time.Second)
	require.NoError(t, err)

	_, err = codec.Decode(tok)
	assert.ErrorIs(t, err, gwerrors.ErrTokenExpired)
}

func TestJWTCodecRejectsGarbage(t *testing.T) {
	_, err := NewJWTCodec(jwt.NewManager("secret")).Decode("garbage")
	assert.ErrorIs(t, err, gwerrors.ErrAuth)
}
