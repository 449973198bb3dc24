package domain

import "github.com/golang-jwt/jwt/v5"

// OperatorClaims: claims токена оператора админ-API.
// Токены выпускает платформа, здесь они только проверяются.
type OperatorClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "scheduler.read": true, "sandbox.write": true
	jwt.RegisteredClaims
}

// HasScope: admin покрывает все остальные scope.
func (c *OperatorClaims) HasScope(scope string) bool {
	return c.Scopes["admin"] || c.Scopes[scope]
}
