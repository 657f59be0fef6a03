package models

import (
	"time"

	"github.com/google/uuid"
)

// File 逻辑文件模型
type File struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index:idx_file_owner"`

	// 文件信息
	Name        string `gorm:"type:varchar(255);not null"`
	VirtualPath string `gorm:"type:varchar(1000);not null;default:'/'"`
	SizeBytes   int64  `gorm:"not null"`
	MimeType    string `gorm:"type:varchar(100)"`
	ContentHash string `gorm:"type:varchar(64);not null"` // SHA256，去重边界见 migrations 中的部分唯一索引

	// 分块放置
	ChunkCount int `gorm:"not null"`
	// Placement 是 InitUpload 时一次性生成的不可变放置计划：
	// JSON 数组，下标即 chunk_index，值为 backend id
	Placement string `gorm:"type:jsonb;not null;default:'[]'"`

	// 状态
	IsDeleted   bool `gorm:"not null;default:false;index:idx_file_deleted"`
	IsPublic    bool `gorm:"not null;default:false"`
	IsEncrypted bool `gorm:"not null;default:false"` // 预留字段，核心路径不使用

	// fork 谱系
	ForkedFromFile *uuid.UUID `gorm:"type:uuid"`
	ForkCount      int        `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (File) TableName() string {
	return "files"
}
