package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialHasher 对房间密码和用户密码做哈希与校验
type CredentialHasher interface {
	Hash(secret string) (string, error)
	// Verify 需要是常量时间比较
	Verify(hash, secret string) bool
}

// BcryptHasher 是基于 bcrypt 的 CredentialHasher
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher 创建 BcryptHasher，cost 非法时使用默认值
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from secret: %w", err)
	}
	return string(bytes), nil
}

// Verify 由 bcrypt.CompareHashAndPassword 保证常量时间比较
func (h *BcryptHasher) Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
