// Package auth - jwt.go handles JWT token creation, signing, and verification
// using a shared HMAC secret, including lazy secret initialization.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "toolbox-registry"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims carries the user identity inside an issued token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// ValidateJWTSecret checks that the JWT secret is properly configured.
// In production a missing TBX_JWT_SECRET is fatal; in dev mode a random
// per-process secret is generated so the server still starts, at the cost
// of sessions not surviving a restart. Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("TBX_JWT_SECRET")
		if secret == "" {
			if devMode() {
				jwtSecret = randomSecret()
				log.Printf("WARNING: TBX_JWT_SECRET not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Sessions will not persist across restarts. Set TBX_JWT_SECRET for persistent sessions.")
			} else {
				jwtSecretErr = errors.New("TBX_JWT_SECRET environment variable is required in production. " +
					"Generate one with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			log.Printf("WARNING: TBX_JWT_SECRET is shorter than the recommended 32 characters.")
		}
		jwtSecret = secret
	})

	return jwtSecretErr
}

func devMode() bool {
	switch {
	case os.Getenv("DEV_MODE") == "true", os.Getenv("DEV_MODE") == "1":
		return true
	case os.Getenv("GIN_MODE") == "debug":
		return true
	}
	return false
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// Functional but weak fallback; dev mode only.
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// GetJWTSecret retrieves the validated JWT secret, panicking if the secret
// was never configured (ValidateJWTSecret not called or failed).
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT creates a signed token for an authenticated user. A zero
// expiresIn falls back to one hour.
func GenerateJWT(userID, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	})

	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and verifies a token, rejecting any signing method
// other than HMAC so an attacker cannot downgrade to alg=none.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
