package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/cropchain/internal/model"
)

func TestToken(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)

	tokenString, err := iss.BuildJWTString(Session{Role: model.RoleConsumer, Name: "Consumer_001"})
	require.NoError(t, err)

	session, err := iss.GetSession(tokenString)
	require.NoError(t, err)
	require.Equal(t, Session{Role: model.RoleConsumer, Name: "Consumer_001"}, session)

	// чужой ключ
	_, err = NewIssuer("other", time.Hour).GetSession(tokenString)
	require.ErrorIs(t, err, ErrInvalidToken)

	// истекший токен
	expired, err := NewIssuer("secret", -time.Minute).BuildJWTString(Session{Role: model.RoleFarmer})
	require.NoError(t, err)
	_, err = iss.GetSession(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	// неизвестная роль
	bad, err := iss.BuildJWTString(Session{Role: model.Role("admin")})
	require.NoError(t, err)
	_, err = iss.GetSession(bad)
	require.ErrorIs(t, err, ErrInvalidToken)
}
