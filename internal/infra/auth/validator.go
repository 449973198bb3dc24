package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

var (
	ErrEmptyToken = errors.New("auth: empty token")
	ErrNoOperator = errors.New("auth: token has no operator id")
	ErrNoScopes   = errors.New("auth: token grants no scopes")
)

// clockSkew: допуск на расхождение часов платформы и планировщика.
const clockSkew = 30 * time.Second

// RSAValidator принимает только токены операторов, выпущенные платформой:
// RS-подпись, обязательный exp, оператор и хотя бы один scope.
type RSAValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// ValidatorOption донастраивает парсер токенов.
type ValidatorOption func(*[]jwt.ParserOption)

// WithIssuer требует совпадения iss. Пустая строка ничего не меняет.
func WithIssuer(iss string) ValidatorOption {
	return func(opts *[]jwt.ParserOption) {
		if iss != "" {
			*opts = append(*opts, jwt.WithIssuer(iss))
		}
	}
}

// WithAudience требует наличия aud в токене. Пустая строка ничего не меняет.
func WithAudience(aud string) ValidatorOption {
	return func(opts *[]jwt.ParserOption) {
		if aud != "" {
			*opts = append(*opts, jwt.WithAudience(aud))
		}
	}
}

func NewRSAValidator(pubKey *rsa.PublicKey, options ...ValidatorOption) *RSAValidator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	for _, o := range options {
		o(&opts)
	}
	return &RSAValidator{publicKey: pubKey, parser: jwt.NewParser(opts...)}
}

// VerifyToken принимает значение заголовка Authorization целиком или голый токен.
func (v *RSAValidator) VerifyToken(header string) (*domain.OperatorClaims, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer "))
	if raw == "" {
		return nil, ErrEmptyToken
	}

	claims := &domain.OperatorClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid operator token: %w", err)
	}

	// Старые токены платформы кладут оператора только в sub
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrNoOperator
	}
	if len(claims.Scopes) == 0 {
		return nil, ErrNoScopes
	}
	return claims, nil
}

// ParseRSAPublicKey читает PEM публичного ключа платформы.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("auth: public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return key, nil
}
