package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gator-forum/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

const tokenIssuer = "gator-forum"

// Claims represents the JWT claims for our application
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens that carry a username.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return NewTokenManagerWithClock(secret, ttl, clockwork.NewRealClock())
}

func NewTokenManagerWithClock(secret string, ttl time.Duration, clock clockwork.Clock) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, clock: clock}
}

// GenerateToken creates a new JWT token for the given username
func (tm *TokenManager) GenerateToken(username string) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}
	now := tm.clock.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// ValidateToken validates the provided JWT token
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tm.secret, nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Username == "" {
		return nil, errors.New("token carries no username")
	}
	return claims, nil
}

// VerifyUsername returns the username inside a valid token. Websocket login
// frames go through here.
func (tm *TokenManager) VerifyUsername(tokenString string) (string, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Username, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// username in the request context.
func (tm *TokenManager) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteError(w, utils.NewUnauthorizedError("authorization header required"))
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			WriteError(w, utils.NewUnauthorizedError("invalid authorization format"))
			return
		}

		claims, err := tm.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			WriteError(w, utils.NewUnauthorizedError("invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(SetUsernameInContext(r.Context(), claims.Username)))
	})
}

// Define a custom context key type to avoid collisions
type contextKey string

// UsernameKey is the key used to store the username in the context
const UsernameKey contextKey = "username"

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UsernameKey, username)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok && username != ""
}
