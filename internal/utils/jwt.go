package utils

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gemxhub/backend/internal/config"
)

// Claims represents the JWT claims
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.StandardClaims
}

// TokenPair is what login endpoints hand back to clients
type TokenPair struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"`
}

// TokenManager signs and verifies RS256 access tokens
type TokenManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	expiration time.Duration
}

// NewTokenManager parses the configured PEM keys. Without a private key an
// ephemeral key pair is generated, which only suits local development since
// tokens die with the process.
func NewTokenManager(cfg config.JWTConfig) (*TokenManager, error) {
	if cfg.PrivateKeyPEM == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		return NewTokenManagerFromKey(key, cfg.Issuer, cfg.Expiration), nil
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT private key: %w", err)
	}
	tm := NewTokenManagerFromKey(privateKey, cfg.Issuer, cfg.Expiration)

	if cfg.PublicKeyPEM != "" {
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("invalid JWT public key: %w", err)
		}
		tm.publicKey = publicKey
	}
	return tm, nil
}

// NewTokenManagerFromKey builds a manager around an existing key
func NewTokenManagerFromKey(key *rsa.PrivateKey, issuer string, expiration time.Duration) *TokenManager {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenManager{
		privateKey: key,
		publicKey:  &key.PublicKey,
		issuer:     issuer,
		expiration: expiration,
	}
}

// Generate issues an access token for a user
func (m *TokenManager) Generate(userID uint, email string) (TokenPair, error) {
	now := time.Now()
	expiresAt := now.Add(m.expiration)

	claims := Claims{
		UserID: userID,
		Email:  email,
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    m.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: expiresAt.Unix(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.privateKey)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken: signed,
		ExpiresIn:   int64(m.expiration.Seconds()),
		TokenType:   "Bearer",
	}, nil
}

// Validate validates a JWT token and returns the claims
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, errors.New("invalid token issuer")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}
