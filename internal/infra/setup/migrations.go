package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jairofilho79/coldigom/internal/domain"
)

// Models 列出所有需要迁移的表，测试也使用它建表
func Models() []interface{} {
	return []interface{}{
		&domain.User{},
		&domain.Song{},
		&domain.Playlist{},
		&domain.PlaylistSong{},
		&domain.Room{},
		&domain.Participant{},
		&domain.Message{},
		&domain.RoomSong{},
		&domain.JoinRequest{},
	}
}

// MigrateDB 自动迁移数据库模式
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if db.Dialector.Name() == "mysql" {
		// 消息按码点限制长度，表必须是 utf8mb4
		db = db.Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci")
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
