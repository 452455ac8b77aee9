// README: Bearer-token verification supplying the authenticated principal.
package infra

import (
	"context"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"medilink/internal/auth"
	"medilink/internal/types"
)

// TokenVerifier verifies a raw bearer token and returns the principal it
// represents. The order engine trusts this input completely; no credential
// verification happens downstream of it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

type jwtVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a TokenVerifier over HS256-signed tokens carrying
// `uid` and `role` claims.
func NewJWTVerifier(secret string) (TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &jwtVerifier{secret: []byte(secret)}, nil
}

type principalClaims struct {
	UID  int64  `json:"uid"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (v *jwtVerifier) Verify(_ context.Context, tokenStr string) (auth.Principal, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &principalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(time.Now))
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return auth.Principal{}, err
	}
	c, _ := tok.Claims.(*principalClaims)
	if c == nil || c.UID == 0 {
		return auth.Principal{}, errors.New("invalid claims")
	}
	role, err := auth.ParseRole(c.Role)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{UserID: types.ID(c.UID), Role: role}, nil
}
