package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost はBCRYPT_COST未指定時のコスト。
const DefaultBcryptCost = 10

// HashPassword はpasswordをbcryptでハッシュ化する。
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword はpasswordがhashと一致するかを返す。
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Hasher は設定済みコストでHashPassword/CheckPasswordを呼び出す。
type Hasher struct {
	Cost int
}

// Hash はパスワードをハッシュ化する。
func (h Hasher) Hash(password string) (string, error) {
	return HashPassword(password, h.Cost)
}

// Check はパスワードがハッシュと一致するかを返す。
func (h Hasher) Check(hash, password string) bool {
	return CheckPassword(hash, password)
}
