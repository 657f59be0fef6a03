package models

import (
	"time"

	"github.com/google/uuid"
)

// Chunk 分块放置记录（物理层）
type Chunk struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	FileID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_file_index,priority:1"`

	// 分块信息
	ChunkIndex  int    `gorm:"not null;uniqueIndex:idx_chunk_file_index,priority:2"` // 块序号（从 0 开始）
	ByteSize    int64  `gorm:"not null"`
	ContentHash string `gorm:"type:varchar(64);not null"`

	// 放置位置
	BackendID uuid.UUID `gorm:"type:uuid;not null;index:idx_chunk_backend"`

	// 远端引用：blob_ref 是取数主句柄，可能失效后由修复路径原地更新；
	// message_ref 指向中继自己的消息日志，仅用于重新推导 blob_ref
	RemoteMessageRef string `gorm:"type:varchar(255);not null"`
	RemoteBlobRef    string `gorm:"type:varchar(255);not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (Chunk) TableName() string {
	return "chunks"
}
