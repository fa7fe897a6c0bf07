package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chargehub/internal/apperr"
	"chargehub/internal/models"
)

// Claims is the JWT payload issued at login and verified on every request.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 tokens. It implements Provider.
type JWT struct {
	secret    []byte
	expiresIn time.Duration
}

// NewJWT returns a configured token provider.
func NewJWT(secret string, expiresIn time.Duration) *JWT {
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return &JWT{secret: []byte(secret), expiresIn: expiresIn}
}

// Issue signs a token for the given user.
func (j *JWT) Issue(user models.User) (string, error) {
	if user.UserID == "" {
		return "", errors.New("auth: user id is required")
	}

	now := time.Now().UTC()
	claims := Claims{
		UserID: user.UserID,
		Email:  user.Email,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify validates the credential and yields the caller identity.
func (j *JWT) Verify(_ context.Context, credential string) (Identity, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, apperr.Unauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return Identity{}, apperr.Unauthorized("invalid token claims")
	}

	role := models.Role(claims.Role)
	if !role.Valid() {
		role = models.RoleUser
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Role: role}, nil
}
