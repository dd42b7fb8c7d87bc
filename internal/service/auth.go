package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/roleguard/internal/config"
	"github.com/faucetdb/roleguard/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrKeyRevoked         = errors.New("api key revoked")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// APIKeyPrefix starts every generated API key.
const APIKeyPrefix = "rg_"

const (
	tokenTypeAdmin     = "admin"
	tokenTypePrincipal = "principal"
	issuer             = "roleguard"
)

type APIKeyPrincipal struct {
	KeyID  string
	Prefix string
}

type JWTPrincipal struct {
	AdminID string
	Email   string
}

// AuthOptions controls how request principals are resolved.
type AuthOptions struct {
	// TrustHeaders accepts principals asserted by X-Principal-* headers.
	TrustHeaders bool
	// Memberships merges the membership table into every principal.
	Memberships bool
}

type AuthService struct {
	store     *config.Store
	jwtSecret []byte
	opts      AuthOptions
}

func NewAuthService(store *config.Store, jwtSecret string, opts AuthOptions) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		opts:      opts,
	}
}

// ValidateAPIKey checks the provided raw API key against stored key hashes.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKeyPrincipal, error) {
	key, err := s.store.GetAPIKeyByHash(ctx, config.HashAPIKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !key.IsActive {
		return nil, ErrKeyRevoked
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrTokenExpired
	}

	// Update last used timestamp (fire and forget)
	go s.store.UpdateAPIKeyLastUsed(context.Background(), key.ID) //nolint:errcheck

	return &APIKeyPrincipal{
		KeyID:  key.ID,
		Prefix: key.KeyPrefix,
	}, nil
}

// GenerateAPIKey creates, stores and returns a new raw API key. The raw key
// is only ever available here; the store keeps its hash.
func (s *AuthService) GenerateAPIKey(ctx context.Context, label string, ttl time.Duration) (string, *model.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(buf)

	key := &model.APIKey{
		KeyHash:   config.HashAPIKey(raw),
		KeyPrefix: raw[:12],
		Label:     label,
		IsActive:  true,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl).UTC()
		key.ExpiresAt = &exp
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// HashPassword returns the bcrypt hash of an admin password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Login verifies an admin's email and password and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string, ttl time.Duration) (string, *model.Admin, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !admin.IsActive {
		return "", nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueJWT(ctx, admin.ID, admin.Email, ttl)
	if err != nil {
		return "", nil, err
	}
	_ = s.store.UpdateAdminLastLogin(ctx, admin.ID)
	return token, admin, nil
}

// ValidateJWT verifies an admin session token and returns the admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}
	if err := s.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAdmin {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Type:    tokenTypeAdmin,
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// IssuePrincipalToken signs a token asserting the principal's subject, roles
// and superuser flag. Relying applications send it as a bearer token.
func (s *AuthService) IssuePrincipalToken(p *model.Principal, ttl time.Duration) (string, error) {
	if p == nil || p.Subject == "" {
		return "", errors.New("principal token requires a subject")
	}
	now := time.Now()
	claims := principalClaims{
		Type:      tokenTypePrincipal,
		Roles:     p.Roles,
		Superuser: p.Superuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ParsePrincipalToken verifies a principal token and returns the
// authenticated principal it asserts.
func (s *AuthService) ParsePrincipalToken(tokenStr string) (*model.Principal, error) {
	claims := &principalClaims{}
	if err := s.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypePrincipal || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	return &model.Principal{
		Subject:       claims.Subject,
		Roles:         claims.Roles,
		Authenticated: true,
		Superuser:     claims.Superuser,
	}, nil
}

func (s *AuthService) parse(tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidCredentials
	}
	if !token.Valid {
		return ErrInvalidCredentials
	}
	return nil
}

type jwtClaims struct {
	Type    string `json:"typ"`
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

type principalClaims struct {
	Type      string   `json:"typ"`
	Roles     []string `json:"roles,omitempty"`
	Superuser bool     `json:"superuser,omitempty"`
	jwt.RegisteredClaims
}
