package models

import (
	"context"
	"fmt"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/database"
)

// AutoMigrate 自动迁移所有存储相关表
func AutoMigrate(ctx context.Context, db *database.DB) error {
	// 按依赖顺序迁移表
	models := []interface{}{
		&Backend{},
		&File{},
		&Chunk{},
	}

	for _, model := range models {
		if err := db.WithContext(ctx).AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	if err := createIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes 创建额外的索引
func createIndexes(ctx context.Context, db *database.DB) error {
	// 去重边界：同一 owner 的未删除文件 content_hash 唯一，
	// 并发 InitUpload 的插入冲突即去重信号
	if err := db.WithContext(ctx).Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_file_owner_hash
		ON files(owner_id, content_hash)
		WHERE is_deleted = false
	`).Error; err != nil {
		return err
	}

	// 健康后端选取按最近探测时间排序
	if err := db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_backend_owner_health
		ON backends(owner_id, last_health_check DESC)
		WHERE is_active = true
	`).Error; err != nil {
		return err
	}

	return nil
}

// DropTables 删除所有存储相关表（危险操作，仅用于测试）
func DropTables(ctx context.Context, db *database.DB) error {
	models := []interface{}{
		&Chunk{},
		&File{},
		&Backend{},
	}

	for _, model := range models {
		if err := db.WithContext(ctx).Migrator().DropTable(model); err != nil {
			return fmt.Errorf("failed to drop table %T: %w", model, err)
		}
	}

	return nil
}
