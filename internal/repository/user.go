package repository

import (
	"context"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
type UserRepository interface {
	// FindByUsername 根据用户名查找用户，不存在时返回 ErrUserNotFound。
	FindByUsername(ctx context.Context, username string) (*domain.User, error)

	// FindByID 根据用户 ID 查找用户，不存在时返回 ErrUserNotFound。
	FindByID(ctx context.Context, id uint) (*domain.User, error)

	// Save 保存用户信息，用户名重复时返回 ErrDuplicateEntry。
	Save(ctx context.Context, user *domain.User) error

	// DisplayNames 批量返回用户名，不存在的 ID 不出现在结果中。
	DisplayNames(ctx context.Context, ids []uint) (map[uint]string, error)
}
