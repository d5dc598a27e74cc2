package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/cropchain/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Session - выбранная роль и отображаемое имя участника
type Session struct {
	Role model.Role
	Name string
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name"`
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) Issuer {
	return Issuer{secret: []byte(secret), ttl: ttl}
}

func (iss Issuer) BuildJWTString(session Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(iss.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: string(session.Role),
		Name: session.Name,
	})
	return token.SignedString(iss.secret)
}

func (iss Issuer) GetSession(tokenString string) (Session, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return iss.secret, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Session{}, ErrInvalidToken
	}

	role, ok := model.ParseRole(c.Role)
	if !ok {
		return Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return Session{Role: role, Name: c.Name}, nil
}
